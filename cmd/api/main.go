package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/panora77956/v3-sub000/internal/batch"
	"github.com/panora77956/v3-sub000/internal/bootstrap"
	"github.com/panora77956/v3-sub000/internal/http/handlers"
	"github.com/panora77956/v3-sub000/internal/http/httpapi"
	"github.com/panora77956/v3-sub000/internal/http/sse"
	"github.com/panora77956/v3-sub000/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := infra.NewTelemetry(cfg, os.Stdout)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: telemetry setup failed")
	}
	otel.SetMeterProvider(tel.MeterProvider())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("api: telemetry shutdown")
		}
	}()

	svc, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer svc.Close()

	hub := sse.NewHub(logger)
	go hub.Run(ctx)

	app := handlers.NewApp(ctx, svc.Runner, batch.NewTracker(), hub, svc.Pool, svc.Settings, logger)
	app.Metrics = tel
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, cfg, logger))

	logger.Info().Msgf("API listening on :%s", cfg.Port)
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server failed")
	}
	// runs observe ctx and reset in-flight downloads before returning
	app.Wait()
	logger.Info().Msg("server stopped")
}
