package lg

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/sour-is/asyncevent/pkg/env"
)

var tracerKey = contextKey{"tracer"}

// Tracer returns the tracer set up by Init or the global tracer.
func Tracer(ctx context.Context) trace.Tracer {
	if t := fromContext[contextKey, trace.Tracer](ctx, tracerKey); t != nil {
		return t
	}
	return otel.Tracer("asyncevent")
}

// Span starts a span named after the calling function.
func Span(ctx context.Context, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	name, attrs := caller(2)
	opts = append(opts, trace.WithAttributes(attrs...))

	return Tracer(ctx).Start(ctx, name, opts...)
}

// Fork starts a new root span linked to the span in ctx. Use it for work that
// outlives the caller, the returned context is not canceled with ctx.
func Fork(ctx context.Context, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	name, attrs := caller(2)
	opts = append(opts,
		trace.WithAttributes(attrs...),
		trace.WithLinks(trace.LinkFromContext(ctx, attribute.String("src", "fork"))),
	)

	return Tracer(ctx).Start(toContext(context.Background(), tracerKey, Tracer(ctx)), name, opts...)
}

func caller(skip int) (string, []attribute.KeyValue) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", nil
	}

	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = fn.Name()
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	return name, []attribute.KeyValue{
		attribute.String("code.filepath", file),
		attribute.Int("code.lineno", line),
	}
}

func initTracing(ctx context.Context, b build) (context.Context, func() error) {
	endpoint := env.Default("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if endpoint == "" {
		return ctx, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(b.attributes()...),
	)
	if err != nil {
		log.Println(wrap(err, "failed to create trace resource"))
		return ctx, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithEndpoint(endpoint),
	)
	if err != nil {
		log.Println(wrap(err, "failed to create trace exporter"))
		return ctx, nil
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx = toContext(ctx, tracerKey, tp.Tracer(b.app))

	return ctx, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		defer log.Println("tracer stopped")
		return wrap(tp.Shutdown(ctx), "failed to shutdown TracerProvider")
	}
}

func wrap(err error, s string) error {
	if err != nil {
		return fmt.Errorf(s+": %w", err)
	}
	return nil
}
