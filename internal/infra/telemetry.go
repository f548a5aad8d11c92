package infra

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ServiceName is reported as service.name on every exported metric.
const ServiceName = "videogen"

// Telemetry owns the process MeterProvider. A manual reader is always
// attached so the current values can be served over HTTP; METRICS_EXPORT=stdout
// adds a periodic JSON export to out.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
}

// MetricPoint is one data point of a collected instrument.
type MetricPoint struct {
	Name       string            `json:"name"`
	Unit       string            `json:"unit,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      int64             `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

func NewTelemetry(cfg *Config, out io.Writer) (*Telemetry, error) {
	reader := sdkmetric.NewManualReader()
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
			attribute.String("deployment.environment", cfg.AppEnv),
		)),
		sdkmetric.WithReader(reader),
	}

	switch strings.ToLower(cfg.MetricsExport) {
	case "", "none":
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		interval := cfg.MetricsInterval
		if interval <= 0 {
			interval = DefaultMetricsInterval
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", cfg.MetricsExport)
	}

	return &Telemetry{provider: sdkmetric.NewMeterProvider(opts...), reader: reader}, nil
}

func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.provider
}

// Shutdown flushes the periodic exporter, if any.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// Snapshot collects the cumulative value of every counter and histogram.
// Histograms report their sum as Value.
func (t *Telemetry) Snapshot(ctx context.Context) ([]MetricPoint, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("telemetry: collect: %w", err)
	}

	out := make([]MetricPoint, 0)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, MetricPoint{Name: m.Name, Unit: m.Unit, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, MetricPoint{Name: m.Name, Unit: m.Unit, Attributes: attrMap(dp.Attributes), Value: dp.Sum, Count: dp.Count})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	m := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}
