// Package bootstrap wires the generation pipeline from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/panora77956/v3-sub000/internal/adapter/repo"
	"github.com/panora77956/v3-sub000/internal/batch"
	"github.com/panora77956/v3-sub000/internal/downloader"
	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/infra/credentials"
	"github.com/panora77956/v3-sub000/internal/providers/genai"
	"github.com/panora77956/v3-sub000/internal/providers/video"
	"github.com/panora77956/v3-sub000/internal/storage"
)

// Services are the long-lived collaborators shared by the commands.
type Services struct {
	Settings batch.Settings
	Pool     *credentials.Pool
	Runner   *batch.Runner
	Store    *storage.FileStore
	DB       *pgxpool.Pool
}

// Close releases the database pool, if any.
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}

// Build connects the optional database, loads accounts and assembles the
// runner. Without DATABASE_URL accounts come from ACCOUNTS_JSON or
// ACCOUNTS_FILE only and copies are not persisted.
func Build(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Services, error) {
	svc := &Services{Settings: batch.SettingsFromConfig(cfg)}

	var sources credentials.Sources
	sources.JSON = cfg.AccountsJSON
	sources.File = cfg.AccountsFile
	sources.Provider = svc.Settings.Provider

	var recorder batch.Recorder
	db, err := infra.NewDBPool(ctx, cfg)
	switch {
	case err == nil:
		svc.DB = db
		runner := infra.NewSQLRunner(db, logger)
		sources.Store = credentials.NewStore(runner)
		recorder = repo.NewCopyRepository(runner)
	case errors.Is(err, infra.ErrNoDatabase):
		logger.Info().Msg("bootstrap: no database configured, copies will not be persisted")
	default:
		return nil, err
	}

	creds, err := credentials.Load(ctx, sources)
	if err != nil {
		svc.Close()
		return nil, err
	}
	pool, err := credentials.NewPool(creds)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.Pool = pool
	logger.Info().Int("accounts", len(pool.All(svc.Settings.Provider))).Msg("bootstrap: accounts loaded")

	transport, err := genai.NewClient(genai.Options{
		BaseURL:    cfg.ProviderBaseURL,
		HTTPClient: &http.Client{Timeout: cfg.HTTPClientTimeout},
		Logger:     &logger,
	})
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("bootstrap: transport: %w", err)
	}
	remote, err := video.NewClient(video.Options{
		Transport:    transport,
		Pool:         pool,
		UploadSettle: cfg.UploadSettle,
		BackoffBase:  cfg.BackoffBase,
		BackoffCap:   cfg.BackoffCap,
		Logger:       &logger,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}

	store, err := storage.NewFileStore(cfg.OutputDir)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.Store = store

	var thumbs downloader.Thumbnailer
	if cfg.Thumbnails {
		thumbs = downloader.FFmpeg{Path: cfg.FFmpegPath}
	}

	svc.Runner, err = batch.NewRunner(svc.Settings, batch.Deps{
		Pool:        pool,
		Remote:      remote,
		Store:       store,
		Namer:       downloader.DefaultNamer,
		Thumbnailer: thumbs,
		Recorder:    recorder,
		Metrics:     infra.NewMetrics(otel.GetMeterProvider()),
		Logger:      &logger,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}
