package lg

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/sdk/metric/aggregator/histogram"
	controller "go.opentelemetry.io/otel/sdk/metric/controller/basic"
	"go.opentelemetry.io/otel/sdk/metric/export/aggregation"
	processor "go.opentelemetry.io/otel/sdk/metric/processor/basic"
	selector "go.opentelemetry.io/otel/sdk/metric/selector/simple"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

var (
	meterKey    = contextKey{"meter"}
	exporterKey = contextKey{"prometheus"}
)

// latency buckets in seconds.
var boundaries = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Meter returns the meter set up by Init or the global meter.
func Meter(ctx context.Context) metric.Meter {
	if m := fromContext[contextKey, metric.Meter](ctx, meterKey); m != nil {
		return m
	}
	return global.Meter("asyncevent")
}

type httpHandle struct {
	exp *prometheus.Exporter
}

// NewHTTP returns a service that serves the prometheus exporter on /metrics.
// Without Init it registers nothing.
func NewHTTP(ctx context.Context) *httpHandle {
	return &httpHandle{fromContext[contextKey, *prometheus.Exporter](ctx, exporterKey)}
}

func (h *httpHandle) RegisterHTTP(mux *http.ServeMux) {
	if h.exp == nil {
		return
	}
	mux.Handle("/metrics", h.exp)
}

func initMetrics(ctx context.Context, b build) (context.Context, func() error) {
	cont := controller.New(
		processor.NewFactory(
			selector.NewWithHistogramDistribution(histogram.WithExplicitBoundaries(boundaries)),
			aggregation.CumulativeTemporalitySelector(),
			processor.WithMemory(true),
		),
		controller.WithResource(resource.NewWithAttributes(semconv.SchemaURL, b.attributes()...)),
	)

	exp, err := prometheus.New(prometheus.Config{DefaultHistogramBoundaries: boundaries}, cont)
	if err != nil {
		log.Println(wrap(err, "metrics disabled"))
		return ctx, nil
	}
	global.SetMeterProvider(cont)

	ctx = toContext(ctx, exporterKey, exp)
	ctx = toContext(ctx, meterKey, cont.Meter(b.app))

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(15 * time.Second)); err != nil {
		log.Println(wrap(err, "runtime metrics disabled"))
	}

	return ctx, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		defer log.Println("metrics stopped")
		return cont.Stop(ctx)
	}
}
