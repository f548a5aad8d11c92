package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/panora77956/v3-sub000/internal/batch"
	"github.com/panora77956/v3-sub000/internal/domain"
)

const maxBatchBody = 4 << 20

// CreateBatch prepares the posted batch and starts running it.
func (a *App) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req batch.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	b, err := batch.Prepare(req, a.Settings)
	if err != nil {
		if errors.Is(err, batch.ErrEmptyBatch) || errors.Is(err, domain.ErrInvalidJob) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to prepare batch")
		return
	}
	entry, err := a.Tracker.Add(b)
	if err != nil {
		a.error(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	got, err := entry.Begin()
	if err != nil {
		a.error(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	a.launch(entry, got, "run", a.Runner.Run)
	zerolog.Ctx(r.Context()).Info().Str("batch_id", b.ID).Int("jobs", len(b.Jobs)).Msg("api: batch accepted")
	a.json(w, http.StatusAccepted, entry.Snapshot())
}

// GetBatch returns the current cards of a batch.
func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	entry, ok := a.entry(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, entry.Snapshot())
}

// BatchEvents streams the events of a batch, starting with a snapshot.
func (a *App) BatchEvents(w http.ResponseWriter, r *http.Request) {
	entry, ok := a.entry(w, r)
	if !ok {
		return
	}
	initial, err := json.Marshal(map[string]any{"kind": "snapshot", "snapshot": entry.Snapshot()})
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to encode snapshot")
		return
	}
	a.Hub.Serve(w, r, chi.URLParam(r, "id"), initial)
}

// RetryDownloads re-fetches the DOWNLOAD_FAILED copies of an idle batch.
func (a *App) RetryDownloads(w http.ResponseWriter, r *http.Request) {
	entry, ok := a.entry(w, r)
	if !ok {
		return
	}
	b, err := entry.Begin()
	if err != nil {
		a.error(w, http.StatusConflict, "conflict", "batch is still running")
		return
	}
	a.launch(entry, b, "retry_downloads", a.Runner.RetryDownloads)
	a.json(w, http.StatusAccepted, entry.Snapshot())
}

func (a *App) entry(w http.ResponseWriter, r *http.Request) (*batch.Entry, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return nil, false
	}
	entry, err := a.Tracker.Get(id)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "batch not found")
		return nil, false
	}
	return entry, true
}
