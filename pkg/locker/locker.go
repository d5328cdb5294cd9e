// package locker provides a channel backed lock around a single value.
package locker

import (
	"context"

	"github.com/sour-is/asyncevent/internal/lg"
)

type Locked[T any] struct {
	state chan *T
}

// New creates a new locker for the given value.
func New[T any](initial *T) *Locked[T] {
	s := &Locked[T]{}
	s.state = make(chan *T, 1)
	s.state <- initial
	return s
}

// Modify will call the function with the locked value
func (s *Locked[T]) Modify(ctx context.Context, fn func(context.Context, *T) error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	ctx, span := lg.Span(ctx)
	defer span.End()

	select {
	case state := <-s.state:
		defer func() { s.state <- state }()
		return fn(ctx, state)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Use will call the function with the locked value. It ignores cancelation of
// ctx so the function is always run once the lock is acquired.
func (s *Locked[T]) Use(ctx context.Context, fn func(context.Context, *T)) {
	ctx = context.WithoutCancel(ctx)

	_ = s.Modify(ctx, func(ctx context.Context, t *T) error {
		fn(ctx, t)
		return nil
	})
}
