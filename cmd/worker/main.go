package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/panora77956/v3-sub000/internal/batch"
	"github.com/panora77956/v3-sub000/internal/bootstrap"
	"github.com/panora77956/v3-sub000/internal/domain"
	"github.com/panora77956/v3-sub000/internal/infra"
)

// worker runs one batch file to completion and prints every event as a
// JSON line on stdout.
func main() {
	var (
		batchFlag string
		quietFlag bool
	)
	flag.StringVar(&batchFlag, "batch", "", "path to a batch request JSON file")
	flag.BoolVar(&quietFlag, "quiet", false, "print only the final result")
	flag.Parse()

	_ = godotenv.Load()

	if batchFlag == "" {
		fmt.Fprintln(os.Stderr, "-batch is required")
		os.Exit(2)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	data, err := os.ReadFile(batchFlag)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: read batch file")
	}
	var req batch.Request
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Fatal().Err(err).Msg("worker: decode batch file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdout carries the event stream, so metrics export to stderr
	tel, err := infra.NewTelemetry(cfg, os.Stderr)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: telemetry setup failed")
	}
	otel.SetMeterProvider(tel.MeterProvider())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	svc, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer svc.Close()

	b, err := batch.Prepare(req, svc.Settings)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: invalid batch")
	}

	enc := json.NewEncoder(os.Stdout)
	var sink domain.Sink = domain.DiscardSink
	if !quietFlag {
		sink = domain.SinkFunc(func(e domain.Event) {
			_ = enc.Encode(domain.EventPayload(e))
		})
	}

	res, runErr := svc.Runner.Run(ctx, b, sink)
	_ = enc.Encode(map[string]any{
		"batch_id": res.BatchID,
		"paths":    res.Paths,
		"counts":   res.Counts,
	})
	if runErr != nil {
		logger.Error().Err(runErr).Str("batch_id", b.ID).Msg("worker: batch failed")
		svc.Close()
		_ = tel.Shutdown(context.Background())
		os.Exit(1)
	}
}
