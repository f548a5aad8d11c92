package infra

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName identifies the instruments registered by this module.
const MeterName = "github.com/panora77956/v3-sub000"

// Metrics holds the generation pipeline instruments.
type Metrics struct {
	submitted        metric.Int64Counter
	failedStart      metric.Int64Counter
	pollRounds       metric.Int64Counter
	terminal         metric.Int64Counter
	downloads        metric.Int64Counter
	downloadFailures metric.Int64Counter
	downloadBytes    metric.Int64Histogram
}

// NewMetrics registers the instruments on mp. A nil mp yields no-op
// instruments.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	var err error
	m.submitted, err = meter.Int64Counter("generation.copies.submitted",
		metric.WithDescription("Copies that received an operation handle"),
		metric.WithUnit("{copy}"))
	if err != nil {
		m.submitted, _ = meter.Int64Counter("generation.copies.submitted")
	}
	m.failedStart, err = meter.Int64Counter("generation.copies.failed_start",
		metric.WithDescription("Copies that never received an operation handle"),
		metric.WithUnit("{copy}"))
	if err != nil {
		m.failedStart, _ = meter.Int64Counter("generation.copies.failed_start")
	}
	m.pollRounds, err = meter.Int64Counter("generation.poll.rounds",
		metric.WithDescription("Status polling rounds"),
		metric.WithUnit("{round}"))
	if err != nil {
		m.pollRounds, _ = meter.Int64Counter("generation.poll.rounds")
	}
	m.terminal, err = meter.Int64Counter("generation.copies.terminal",
		metric.WithDescription("Copies reaching a terminal status"),
		metric.WithUnit("{copy}"))
	if err != nil {
		m.terminal, _ = meter.Int64Counter("generation.copies.terminal")
	}
	m.downloads, err = meter.Int64Counter("generation.downloads",
		metric.WithDescription("Artifacts downloaded"),
		metric.WithUnit("{file}"))
	if err != nil {
		m.downloads, _ = meter.Int64Counter("generation.downloads")
	}
	m.downloadFailures, err = meter.Int64Counter("generation.download.failures",
		metric.WithDescription("Artifacts that exhausted download retries"),
		metric.WithUnit("{file}"))
	if err != nil {
		m.downloadFailures, _ = meter.Int64Counter("generation.download.failures")
	}
	m.downloadBytes, err = meter.Int64Histogram("generation.download.size",
		metric.WithDescription("Size of downloaded artifacts"),
		metric.WithUnit("By"))
	if err != nil {
		m.downloadBytes, _ = meter.Int64Histogram("generation.download.size")
	}
	return m
}

func accountAttr(account string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("account", account))
}

// RecordSubmission counts handles created and copies that failed to start.
func (m *Metrics) RecordSubmission(ctx context.Context, account string, submitted, failedStart int) {
	if m == nil {
		return
	}
	if submitted > 0 {
		m.submitted.Add(ctx, int64(submitted), accountAttr(account))
	}
	if failedStart > 0 {
		m.failedStart.Add(ctx, int64(failedStart), accountAttr(account))
	}
}

func (m *Metrics) RecordPollRound(ctx context.Context) {
	if m == nil {
		return
	}
	m.pollRounds.Add(ctx, 1)
}

// RecordTerminal counts a copy reaching status.
func (m *Metrics) RecordTerminal(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.terminal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordDownload(ctx context.Context, account string, bytes int64) {
	if m == nil {
		return
	}
	m.downloads.Add(ctx, 1, accountAttr(account))
	m.downloadBytes.Record(ctx, bytes, accountAttr(account))
}

func (m *Metrics) RecordDownloadFailure(ctx context.Context, account string) {
	if m == nil {
		return
	}
	m.downloadFailures.Add(ctx, 1, accountAttr(account))
}
