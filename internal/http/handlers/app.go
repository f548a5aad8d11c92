package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/panora77956/v3-sub000/internal/batch"
	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/http/sse"
	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/infra/credentials"
)

// BatchRunner executes batches. *batch.Runner implements it.
type BatchRunner interface {
	Run(ctx context.Context, b *batch.Batch, sink domain.Sink) (batch.Result, error)
	RetryDownloads(ctx context.Context, b *batch.Batch, sink domain.Sink) (batch.Result, error)
}

var _ BatchRunner = (*batch.Runner)(nil)

// MetricsSource serves collected instrument values. *infra.Telemetry
// implements it.
type MetricsSource interface {
	Snapshot(ctx context.Context) ([]infra.MetricPoint, error)
}

// App holds the collaborators of the HTTP handlers.
type App struct {
	Runner   BatchRunner
	Tracker  *batch.Tracker
	Hub      *sse.Hub
	Pool     *credentials.Pool
	Settings batch.Settings
	Logger   zerolog.Logger
	// Metrics is optional; without it /v1/metrics reports nothing.
	Metrics MetricsSource

	base context.Context
	wg   sync.WaitGroup
}

// NewApp builds the handler container. Runs started over HTTP live on ctx,
// not on the request that started them.
func NewApp(ctx context.Context, runner BatchRunner, tracker *batch.Tracker, hub *sse.Hub, pool *credentials.Pool, settings batch.Settings, logger zerolog.Logger) *App {
	return &App{
		Runner:   runner,
		Tracker:  tracker,
		Hub:      hub,
		Pool:     pool,
		Settings: settings,
		Logger:   logger,
		base:     ctx,
	}
}

// Wait blocks until every run started by the handlers has returned.
func (a *App) Wait() {
	a.wg.Wait()
}

type runFunc func(ctx context.Context, b *batch.Batch, sink domain.Sink) (batch.Result, error)

// launch runs fn for a batch already claimed with Entry.Begin.
func (a *App) launch(entry *batch.Entry, b *batch.Batch, op string, fn runFunc) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		res, err := fn(a.base, b, entry.Sink(a.Hub.Sink(b.ID)))
		entry.End(res, err)
		ev := a.Logger.Info()
		if err != nil {
			ev = a.Logger.Error().Err(err)
		}
		ev.Str("batch_id", b.ID).Str("op", op).Int("downloaded", len(res.Paths)).Msg("api: batch run finished")
	}()
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
