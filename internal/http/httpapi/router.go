package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/panora77956/v3-sub000/internal/http/handlers"
	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/middleware"
)

func NewRouter(app *handlers.App, cfg *infra.Config, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID(logger),
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger,
		middleware.CORS(cfg.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerToken(cfg.APIToken))

		r.Get("/v1/accounts", app.ListAccounts)
		r.Get("/v1/metrics", app.MetricsSnapshot)
		r.Route("/v1/batches", func(r chi.Router) {
			r.With(middleware.RateLimit(cfg.BatchRateLimit, cfg.BatchRatePeriod)).Post("/", app.CreateBatch)
			r.Get("/{id}", app.GetBatch)
			r.Get("/{id}/events", app.BatchEvents)
			r.Post("/{id}/retry-downloads", app.RetryDownloads)
		})
	})

	return r
}
