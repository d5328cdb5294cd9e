package asyncevent

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/sour-is/asyncevent/internal/lg"
	"github.com/sour-is/asyncevent/pkg/behavior"
)

// Deferred is a one shot computation producing a single result or error.
type Deferred[A, R any] func(ctx context.Context, arg A) (R, error)

// Stream is a push source. It calls emit for every value and returns nil on
// completion or the error that terminated it. It should stop when ctx is done.
type Stream[R any] func(ctx context.Context, emit func(R)) error

// FromValues emits each value then completes.
func FromValues[R any](values ...R) Stream[R] {
	return func(ctx context.Context, emit func(R)) error {
		for _, v := range values {
			if err := ctx.Err(); err != nil {
				return err
			}
			emit(v)
		}
		return nil
	}
}

// FromChan emits values until the channel is closed. A non nil error read
// from errs terminates the stream. errs may be nil.
func FromChan[R any](values <-chan R, errs <-chan error) Stream[R] {
	return func(ctx context.Context, emit func(R)) error {
		for {
			select {
			case v, ok := <-values:
				if !ok {
					return nil
				}
				emit(v)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Once turns a deferred computation into a single value stream.
func Once[A, R any](arg A, fn Deferred[A, R]) Stream[R] {
	return func(ctx context.Context, emit func(R)) error {
		v, err := fn(ctx, arg)
		if err != nil {
			return err
		}
		emit(v)
		return nil
	}
}

// FromObservable emits every value of obs, starting with the latest, until
// the observable completes.
func FromObservable[T any](obs behavior.Observable[T]) Stream[T] {
	return func(ctx context.Context, emit func(T)) error {
		sub, err := obs.Subscribe(ctx)
		if err != nil {
			return err
		}
		defer sub.Close(context.WithoutCancel(ctx))

		for {
			v, ok := sub.Recv(ctx)
			if !ok {
				return ctx.Err()
			}
			emit(v)
		}
	}
}

// Attachment is the link between a Subject and a running Stream.
type Attachment struct {
	id     ulid.ULID
	cancel context.CancelFunc
	detach func(context.Context, *Attachment)

	mu       sync.Mutex
	released bool
	finished bool
	err      error
	done     chan struct{}
}

func newAttachment(cancel context.CancelFunc, detach func(context.Context, *Attachment)) *Attachment {
	return &Attachment{
		id:     ulid.Make(),
		cancel: cancel,
		detach: detach,
		done:   make(chan struct{}),
	}
}

func (a *Attachment) ID() string {
	return a.id.String()
}

// Done is closed when the source returns.
func (a *Attachment) Done() <-chan struct{} {
	return a.done
}

// Err returns the error the source terminated with, if any.
func (a *Attachment) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.err
}

// Close releases the source. Values emitted after Close are dropped and a
// later source error is not pushed.
func (a *Attachment) Close(ctx context.Context) error {
	ctx, span := lg.Span(ctx)
	defer span.End()

	a.mu.Lock()
	a.released = true
	a.mu.Unlock()

	a.cancel()
	a.detach(ctx, a)

	return nil
}

func (a *Attachment) ifActive(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.released || a.finished {
		return
	}
	fn()
}

func (a *Attachment) finish(err error, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer close(a.done)

	a.err = err
	if !a.released {
		fn()
	}
	a.finished = true
	a.cancel()
}
