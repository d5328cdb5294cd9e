package lg_test

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/sour-is/asyncevent/internal/lg"
)

func TestSpan(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	ctx, span := lg.Span(ctx)
	defer span.End()
	is.True(span != nil)

	fctx, fspan := lg.Fork(ctx)
	defer fspan.End()
	is.True(fctx != nil)

	is.True(lg.Tracer(ctx) != nil)
	is.True(lg.Meter(ctx) != nil)
}

func TestForkOutlivesParent(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	fctx, span := lg.Fork(ctx)
	defer span.End()

	cancel()
	is.NoErr(fctx.Err())
}

func TestNewHTTPWithoutInit(t *testing.T) {
	is := is.New(t)

	h := lg.NewHTTP(context.Background())
	is.True(h != nil)
}
