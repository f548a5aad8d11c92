package handlers

import (
	"net/http"

	"github.com/panora77956/v3-sub000/internal/infra"
)

// MetricsSnapshot reports the cumulative pipeline counters.
func (a *App) MetricsSnapshot(w http.ResponseWriter, r *http.Request) {
	points := make([]infra.MetricPoint, 0)
	if a.Metrics != nil {
		var err error
		points, err = a.Metrics.Snapshot(r.Context())
		if err != nil {
			a.Logger.Error().Err(err).Msg("api: collect metrics")
			a.error(w, http.StatusInternalServerError, "metrics_unavailable", err.Error())
			return
		}
	}
	a.json(w, http.StatusOK, map[string]any{"metrics": points})
}
