package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sour-is/asyncevent/internal/lg"
	"github.com/sour-is/asyncevent/pkg/env"
	"github.com/sour-is/asyncevent/pkg/feed"
	"github.com/sour-is/asyncevent/pkg/registry"
	"github.com/sour-is/asyncevent/pkg/service"
)

var cleanupInterval = 10 * time.Minute

var errNoArgument = errors.New("nothing to echo")

// echo is the result of the demo operation.
type echo struct {
	Argument  json.RawMessage `json:"argument"`
	Completed time.Time       `json:"completed"`
}

var _ = apps.Register(50, func(ctx context.Context, svc *service.Harness) error {
	ctx, span := lg.Span(ctx)
	defer span.End()

	span.AddEvent("Enable Feed")

	ttl := env.Duration("ASYNCEVENT_TTL", 30*time.Minute)
	delay := env.Duration("ASYNCEVENT_DELAY", 2*time.Second)

	reg := registry.New[json.RawMessage, echo](ctx, ttl, cleanupInterval)
	svc.OnStop(reg.Close)

	f, err := feed.New(ctx, reg, func(ctx context.Context, arg json.RawMessage) (echo, error) {
		ctx, span := lg.Span(ctx)
		defer span.End()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return echo{}, ctx.Err()
		}
		if len(arg) == 0 || bytes.Equal(arg, []byte("null")) {
			span.RecordError(errNoArgument)
			return echo{}, errNoArgument
		}

		return echo{Argument: arg, Completed: time.Now()}, nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	svc.Add(f, reg)

	return nil
})
