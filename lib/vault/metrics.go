package vault

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OTel instruments a Vault records against. A nil
// *Metrics is safe to call methods on; Vault falls back to it when
// constructed without a metric.Meter.
type Metrics struct {
	fetchDuration  metric.Float64Histogram
	downloadsTotal metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}

	fetchDuration, err := meter.Float64Histogram(
		"vmvault_fetch_duration_seconds",
		metric.WithDescription("Time to resolve a FetchImage call"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	downloadsTotal, err := meter.Int64Counter(
		"vmvault_downloads_total",
		metric.WithDescription("Number of image, kernel, and initrd downloads attempted"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{fetchDuration: fetchDuration, downloadsTotal: downloadsTotal}, nil
}

func (m *Metrics) recordFetch(ctx context.Context, branch string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.fetchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("branch", branch),
		attribute.String("status", status),
	))
}

func (m *Metrics) recordDownload(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.downloadsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
