package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/bundlekit"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Build metrics
	BuildsTotal      metric.Int64Counter
	BuildErrorsTotal metric.Int64Counter
	BuildDuration    metric.Float64Histogram

	// Output metrics
	FilesCopiedTotal  metric.Int64Counter
	FilesWrittenTotal metric.Int64Counter
	BytesWrittenTotal metric.Int64Counter

	// Watch metrics
	RebuildsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.BuildsTotal, _ = meter.Int64Counter(
		"bundlekit.builds.total",
		metric.WithDescription("Total number of builds started"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"bundlekit.builds.errors.total",
		metric.WithDescription("Total number of failed builds by error kind"),
		metric.WithUnit("{error}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"bundlekit.builds.duration",
		metric.WithDescription("Duration of builds"),
		metric.WithUnit("ms"),
	)

	m.FilesCopiedTotal, _ = meter.Int64Counter(
		"bundlekit.files.copied.total",
		metric.WithDescription("Total number of files copied verbatim"),
		metric.WithUnit("{file}"),
	)

	m.FilesWrittenTotal, _ = meter.Int64Counter(
		"bundlekit.files.written.total",
		metric.WithDescription("Total number of output files written"),
		metric.WithUnit("{file}"),
	)

	m.BytesWrittenTotal, _ = meter.Int64Counter(
		"bundlekit.bytes.written.total",
		metric.WithDescription("Total number of bytes written to output directories"),
		metric.WithUnit("By"),
	)

	m.RebuildsTotal, _ = meter.Int64Counter(
		"bundlekit.watch.rebuilds.total",
		metric.WithDescription("Total number of rebuilds triggered by file changes"),
		metric.WithUnit("{build}"),
	)

	return m
}
