// package behavior provides a hot, multicast subject that replays its latest
// value to every new subscriber.
package behavior

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"

	"github.com/sour-is/asyncevent/internal/lg"
	"github.com/sour-is/asyncevent/pkg/locker"
)

var ErrClosed = errors.New("behavior: subject closed")

// Observable is the read only side of a Subject.
type Observable[T any] interface {
	// Value returns the latest value.
	Value() T
	// Subscribe registers a subscriber. The latest value is queued before any
	// value pushed after the call.
	Subscribe(ctx context.Context) (*Subscription[T], error)
	// Observe subscribes and calls fn for each value from a new goroutine
	// until ctx is done or the subscription ends.
	Observe(ctx context.Context, fn func(T)) (*Subscription[T], error)
}

type state[T any] struct {
	value       T
	closed      bool
	subscribers []*Subscription[T]
}

// Subject holds a single latest value and broadcasts every new value to all
// current subscribers in push order.
type Subject[T any] struct {
	state *locker.Locked[state[T]]
}

var _ Observable[int] = (*Subject[int])(nil)

func New[T any](initial T) *Subject[T] {
	return &Subject[T]{state: locker.New(&state[T]{value: initial})}
}

// Observable returns a view that cannot push values.
func (s *Subject[T]) Observable() Observable[T] {
	return view[T]{s}
}

func (s *Subject[T]) Value() T {
	var v T
	s.state.Use(context.Background(), func(ctx context.Context, state *state[T]) {
		v = state.value
	})
	return v
}

// Next stores v as the latest value and queues it on every subscriber.
// It is a no-op once the subject is closed.
func (s *Subject[T]) Next(ctx context.Context, v T) {
	ctx, span := lg.Span(ctx)
	defer span.End()

	s.state.Use(ctx, func(ctx context.Context, state *state[T]) {
		if state.closed {
			span.AddEvent("next on closed subject")
			return
		}
		state.value = v

		span.SetAttributes(attribute.Int("subscribers", len(state.subscribers)))
		for _, sub := range state.subscribers {
			sub.push(ctx, v)
		}
	})
}

func (s *Subject[T]) Subscribe(ctx context.Context) (*Subscription[T], error) {
	ctx, span := lg.Span(ctx)
	defer span.End()

	sub := newSubscription[T]()
	sub.unsub = s.delete(sub)

	err := s.state.Modify(ctx, func(ctx context.Context, state *state[T]) error {
		if state.closed {
			return ErrClosed
		}
		sub.push(ctx, state.value)
		state.subscribers = append(state.subscribers, sub)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("subscription", sub.ID()))

	return sub, nil
}

func (s *Subject[T]) Observe(ctx context.Context, fn func(T)) (*Subscription[T], error) {
	sub, err := s.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	go func() {
		defer sub.Close(context.WithoutCancel(ctx))

		for {
			v, ok := sub.Recv(ctx)
			if !ok {
				return
			}
			fn(v)
		}
	}()

	return sub, nil
}

// Subscribers returns the number of attached subscribers.
func (s *Subject[T]) Subscribers() int {
	var n int
	s.state.Use(context.Background(), func(ctx context.Context, state *state[T]) {
		n = len(state.subscribers)
	})
	return n
}

// Close completes every subscriber. Queued values can still be received.
func (s *Subject[T]) Close(ctx context.Context) error {
	ctx, span := lg.Span(ctx)
	defer span.End()

	var subs []*Subscription[T]
	err := s.state.Modify(ctx, func(ctx context.Context, state *state[T]) error {
		if state.closed {
			return fmt.Errorf("%w: already closed", ErrClosed)
		}
		state.closed = true
		subs, state.subscribers = state.subscribers, nil
		return nil
	})
	if err != nil {
		return err
	}

	var errs error
	for _, sub := range subs {
		errs = multierr.Append(errs, sub.complete(ctx))
	}
	return errs
}

func (s *Subject[T]) delete(sub *Subscription[T]) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, span := lg.Span(ctx)
		defer span.End()

		s.state.Use(ctx, func(ctx context.Context, state *state[T]) {
			lis := state.subscribers
			for i := range lis {
				if lis[i] == sub {
					lis[i] = lis[len(lis)-1]
					lis[len(lis)-1] = nil
					state.subscribers = lis[:len(lis)-1]
					return
				}
			}
		})
		return nil
	}
}

type view[T any] struct {
	s *Subject[T]
}

func (v view[T]) Value() T { return v.s.Value() }
func (v view[T]) Subscribe(ctx context.Context) (*Subscription[T], error) {
	return v.s.Subscribe(ctx)
}
func (v view[T]) Observe(ctx context.Context, fn func(T)) (*Subscription[T], error) {
	return v.s.Observe(ctx, fn)
}
