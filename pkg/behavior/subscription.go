package behavior

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/sour-is/asyncevent/internal/lg"
	"github.com/sour-is/asyncevent/pkg/locker"
)

type queue[T any] struct {
	items []T
	done  bool
}

// Subscription receives values from a Subject in push order. Its queue is
// unbounded.
type Subscription[T any] struct {
	id     ulid.ULID
	queue  *locker.Locked[queue[T]]
	notify chan struct{}

	unsub func(context.Context) error
	once  sync.Once
}

func newSubscription[T any]() *Subscription[T] {
	return &Subscription[T]{
		id:     ulid.Make(),
		queue:  locker.New(&queue[T]{}),
		notify: make(chan struct{}, 1),
	}
}

func (s *Subscription[T]) ID() string {
	return s.id.String()
}

// Recv blocks until a value is available. It returns false once the
// subscription is closed or completed and drained, or ctx is done.
func (s *Subscription[T]) Recv(ctx context.Context) (T, bool) {
	var zero T

	for {
		var v T
		var ok, done bool

		err := s.queue.Modify(ctx, func(ctx context.Context, q *queue[T]) error {
			if len(q.items) > 0 {
				v = q.items[0]
				q.items[0] = zero
				q.items = q.items[1:]
				ok = true
				return nil
			}
			done = q.done
			return nil
		})
		switch {
		case err != nil:
			return zero, false
		case ok:
			return v, true
		case done:
			return zero, false
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// Pending returns the number of queued values.
func (s *Subscription[T]) Pending() int {
	var n int
	s.queue.Use(context.Background(), func(ctx context.Context, q *queue[T]) {
		n = len(q.items)
	})
	return n
}

// Close detaches from the subject and drops queued values.
func (s *Subscription[T]) Close(ctx context.Context) error {
	ctx, span := lg.Span(ctx)
	defer span.End()

	if s == nil {
		return nil
	}

	var err error
	s.once.Do(func() {
		if s.unsub != nil {
			err = s.unsub(ctx)
		}
		s.queue.Use(ctx, func(ctx context.Context, q *queue[T]) {
			q.items = nil
			q.done = true
		})
		s.signal()
	})
	span.RecordError(err)

	return err
}

func (s *Subscription[T]) push(ctx context.Context, v T) {
	s.queue.Use(ctx, func(ctx context.Context, q *queue[T]) {
		if q.done {
			return
		}
		q.items = append(q.items, v)
	})
	s.signal()
}

func (s *Subscription[T]) complete(ctx context.Context) error {
	s.queue.Use(ctx, func(ctx context.Context, q *queue[T]) {
		q.done = true
	})
	s.signal()
	return nil
}

func (s *Subscription[T]) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
