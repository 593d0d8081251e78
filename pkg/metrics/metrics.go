// Package metrics exposes pipeline and HTTP metrics through an OpenTelemetry
// MeterProvider backed by the Prometheus exporter.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterScope = "github.com/rateprof/profrag/pkg/metrics"

// DefaultBuckets are the stage and request duration buckets, in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Recorder is the single metrics surface of the service.
type Recorder interface {
	RecordScrape(ctx context.Context, outcome string)
	RecordUpserted(ctx context.Context, n int)
	RecordEmbeddings(ctx context.Context, n int)
	RecordStage(ctx context.Context, stage string, d time.Duration, err error)
	RecordRequest(ctx context.Context, method, route string, status int, d time.Duration)
}

// Provider is the subset of the SDK MeterProvider needed for shutdown.
type Provider interface {
	Shutdown(ctx context.Context) error
}

// New creates a MeterProvider with a Prometheus exporter on its own
// registry. It returns the provider, the /metrics handler and a Recorder.
func New() (Provider, http.Handler, Recorder, error) {
	reg := prometheus.NewRegistry()
	exporter, err := prometheusexporter.New(prometheusexporter.WithRegisterer(reg))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("metrics: prometheus exporter: %w", err)
	}

	hist := sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: DefaultBuckets}}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithView(
			sdkmetric.NewView(sdkmetric.Instrument{Name: "profrag_stage_duration_seconds"}, hist),
			sdkmetric.NewView(sdkmetric.Instrument{Name: "profrag_http_request_duration_seconds"}, hist),
		),
	)

	rec, err := newRecorder(mp.Meter(meterScope))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("metrics: instruments: %w", err)
	}
	return mp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), rec, nil
}

type recorder struct {
	scrapes     metric.Int64Counter
	upserted    metric.Int64Counter
	embeddings  metric.Int64Counter
	stageDur    metric.Float64Histogram
	requests    metric.Int64Counter
	requestsDur metric.Float64Histogram
}

func newRecorder(meter metric.Meter) (*recorder, error) {
	var (
		r   recorder
		err error
	)
	if r.scrapes, err = meter.Int64Counter("profrag_scrape_outcomes_total",
		metric.WithDescription("Scrape requests by terminal state")); err != nil {
		return nil, err
	}
	if r.upserted, err = meter.Int64Counter("profrag_vectors_upserted_total",
		metric.WithDescription("Vectors acknowledged by the index")); err != nil {
		return nil, err
	}
	if r.embeddings, err = meter.Int64Counter("profrag_embeddings_total",
		metric.WithDescription("Texts sent to the embedding model")); err != nil {
		return nil, err
	}
	if r.stageDur, err = meter.Float64Histogram("profrag_stage_duration_seconds",
		metric.WithDescription("Pipeline stage duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.requests, err = meter.Int64Counter("profrag_http_requests_total",
		metric.WithDescription("HTTP requests by route and status")); err != nil {
		return nil, err
	}
	if r.requestsDur, err = meter.Float64Histogram("profrag_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *recorder) RecordScrape(ctx context.Context, outcome string) {
	r.scrapes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (r *recorder) RecordUpserted(ctx context.Context, n int) {
	r.upserted.Add(ctx, int64(n))
}

func (r *recorder) RecordEmbeddings(ctx context.Context, n int) {
	r.embeddings.Add(ctx, int64(n))
}

func (r *recorder) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	r.stageDur.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("error", err != nil),
	))
}

func (r *recorder) RecordRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status_class", statusClass(status)),
	)
	r.requests.Add(ctx, 1, attrs)
	r.requestsDur.Record(ctx, d.Seconds(), attrs)
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordScrape(context.Context, string)                              {}
func (Nop) RecordUpserted(context.Context, int)                               {}
func (Nop) RecordEmbeddings(context.Context, int)                             {}
func (Nop) RecordStage(context.Context, string, time.Duration, error)         {}
func (Nop) RecordRequest(context.Context, string, string, int, time.Duration) {}
