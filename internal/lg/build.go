package lg

import (
	"os"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// build describes the running binary. It tags log lines, metrics and traces.
type build struct {
	app       string
	pkg       string
	goversion string
	host      string
}

func readBuild(app string) build {
	b := build{app: app}
	if info, ok := debug.ReadBuildInfo(); ok {
		b.goversion = info.GoVersion
		b.pkg = info.Path
	}
	if h, err := os.Hostname(); err == nil {
		b.host = h
	}
	return b
}

func (b build) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceNameKey.String(b.app),
		attribute.String("app", b.app),
		attribute.String("host", b.host),
		attribute.String("go_version", b.goversion),
		attribute.String("pkg", b.pkg),
	}
}
