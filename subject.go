package asyncevent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/instrument/syncint64"
	"go.uber.org/multierr"

	"github.com/sour-is/asyncevent/internal/lg"
	"github.com/sour-is/asyncevent/pkg/behavior"
	"github.com/sour-is/asyncevent/pkg/locker"
)

var (
	ErrPanic  = errors.New("producer panic")
	ErrClosed = behavior.ErrClosed
)

// Observable is the read only stream of snapshots handed to consumers.
type Observable[A, R any] interface {
	behavior.Observable[Snapshot[A, R]]
}

// Subject stores the latest Snapshot of an operation and broadcasts every
// transition. Only the Subject pushes snapshots.
//
// Overlapping Execute or Observe calls are not cancelled: both push their
// snapshots and the last push wins.
type Subject[A, R any] struct {
	events      *behavior.Subject[Snapshot[A, R]]
	attachments *locker.Locked[map[string]*Attachment]
}

// New returns a Subject holding the NotStarted snapshot.
func New[A, R any]() *Subject[A, R] {
	return &Subject[A, R]{
		events:      behavior.New(Init[A, R]()),
		attachments: locker.New(&map[string]*Attachment{}),
	}
}

// Executing creates a Subject and starts fn. The returned Subject is already
// InProgress.
func Executing[A, R any](ctx context.Context, arg A, fn Deferred[A, R], opts ...Option) *Subject[A, R] {
	s := New[A, R]()
	s.Execute(ctx, arg, fn, opts...)
	return s
}

// ExecuteAndWait is like Executing but returns once fn has resolved. The
// error is only set when ctx ends first.
func ExecuteAndWait[A, R any](ctx context.Context, arg A, fn Deferred[A, R], opts ...Option) (*Subject[A, R], error) {
	s := New[A, R]()
	_, err := s.Execute(ctx, arg, fn, opts...).Wait(ctx)
	return s, err
}

// Observing creates a Subject and attaches it to src.
func Observing[A, R any](ctx context.Context, arg A, src Stream[R], opts ...Option) (*Subject[A, R], *Attachment) {
	s := New[A, R]()
	a := s.Observe(ctx, arg, src, opts...)
	return s, a
}

func (s *Subject[A, R]) Observable() Observable[A, R] {
	return s.events.Observable()
}

// Value returns the latest snapshot.
func (s *Subject[A, R]) Value() Snapshot[A, R] {
	return s.events.Value()
}

// Reset pushes the NotStarted snapshot. Attached sources keep running.
func (s *Subject[A, R]) Reset(ctx context.Context) {
	ctx, span := lg.Span(ctx)
	defer span.End()

	s.push(ctx, Init[A, R]())
}

func (s *Subject[A, R]) MarkInProgress(ctx context.Context, arg A, carried ...R) {
	ctx, span := lg.Span(ctx)
	defer span.End()

	s.transition(ctx, InProgress, arg, first(carried), nil)
}

func (s *Subject[A, R]) MarkCompleted(ctx context.Context, arg A, result R) {
	ctx, span := lg.Span(ctx)
	defer span.End()

	s.transition(ctx, Completed, arg, &result, nil)
}

// MarkFailed pushes a Failed snapshot. The failure is a value, the Subject
// itself keeps working.
func (s *Subject[A, R]) MarkFailed(ctx context.Context, arg A, err error, carried ...R) {
	ctx, span := lg.Span(ctx)
	defer span.End()

	s.transition(ctx, Failed, arg, first(carried), err)
}

// Execute pushes InProgress, then runs fn in a new goroutine and pushes
// Completed or Failed when it returns. fn receives ctx.
func (s *Subject[A, R]) Execute(ctx context.Context, arg A, fn Deferred[A, R], opts ...Option) *Pending[A, R] {
	ctx, span := lg.Span(ctx)
	defer span.End()

	o := newOptions(opts)
	carried := s.carry(o)

	p := &Pending[A, R]{done: make(chan struct{})}
	p.started = s.transition(ctx, InProgress, arg, carried, nil)

	go func() {
		ctx, span := lg.Span(ctx)
		defer span.End()
		defer close(p.done)

		result, err := call(ctx, fn, arg)
		if err != nil {
			span.RecordError(err)
			p.event = s.transition(ctx, Failed, arg, carried, err)
			return
		}
		p.event = s.transition(ctx, Completed, arg, &result, nil)
	}()

	return p
}

// Observe pushes InProgress, then a Completed snapshot for every value src
// emits. An error from src pushes one Failed snapshot. Normal completion
// pushes nothing. The returned Attachment releases src independently of the
// Subject.
func (s *Subject[A, R]) Observe(ctx context.Context, arg A, src Stream[R], opts ...Option) *Attachment {
	ctx, span := lg.Span(ctx)
	defer span.End()

	o := newOptions(opts)
	carried := s.carry(o)
	s.transition(ctx, InProgress, arg, carried, nil)

	actx, cancel := context.WithCancel(ctx)
	a := newAttachment(cancel, s.detach)
	span.SetAttributes(attribute.String("attachment", a.ID()))

	s.attachments.Use(ctx, func(ctx context.Context, m *map[string]*Attachment) {
		(*m)[a.ID()] = a
	})
	add(ctx, metrics(ctx).attachments, attribute.String("event", "attach"))

	go func() {
		ctx, span := lg.Span(actx)
		defer span.End()

		last := carried
		emit := func(v R) {
			a.ifActive(func() {
				s.transition(ctx, Completed, arg, &v, nil)
				if o.carryOnResult {
					last = &v
				}
			})
		}

		err := stream(ctx, src, emit)
		span.RecordError(err)

		s.detach(context.WithoutCancel(ctx), a)
		a.finish(err, func() {
			if err != nil {
				s.transition(ctx, Failed, arg, last, err)
			}
		})
	}()

	return a
}

// Close releases all attachments and completes every subscriber.
func (s *Subject[A, R]) Close(ctx context.Context) error {
	ctx, span := lg.Span(ctx)
	defer span.End()

	var lis []*Attachment
	s.attachments.Use(ctx, func(ctx context.Context, m *map[string]*Attachment) {
		for _, a := range *m {
			lis = append(lis, a)
		}
	})

	var errs error
	for _, a := range lis {
		errs = multierr.Append(errs, a.Close(ctx))
	}
	errs = multierr.Append(errs, s.events.Close(ctx))
	span.RecordError(errs)

	return errs
}

// Attached returns the number of attachments whose source is still running.
func (s *Subject[A, R]) Attached() int {
	var n int
	s.attachments.Use(context.Background(), func(ctx context.Context, m *map[string]*Attachment) {
		n = len(*m)
	})
	return n
}

func (s *Subject[A, R]) detach(ctx context.Context, a *Attachment) {
	removed := false
	s.attachments.Use(ctx, func(ctx context.Context, m *map[string]*Attachment) {
		if _, ok := (*m)[a.ID()]; ok {
			delete(*m, a.ID())
			removed = true
		}
	})
	if removed {
		add(ctx, metrics(ctx).attachments, attribute.String("event", "detach"))
	}
}

// carry returns the result of the latest snapshot when the policy asks for it.
func (s *Subject[A, R]) carry(o options) *R {
	if !o.carryOnResult {
		return nil
	}
	if e := s.Value(); e.hasResult {
		r := e.result
		return &r
	}
	return nil
}

// transition builds the next snapshot for arg and pushes it.
func (s *Subject[A, R]) transition(ctx context.Context, state State, arg A, result *R, err error) Snapshot[A, R] {
	return s.push(ctx, NewSnapshot(state, Payload[A, R]{Argument: &arg, Result: result, Err: err}))
}

func (s *Subject[A, R]) push(ctx context.Context, e Snapshot[A, R]) Snapshot[A, R] {
	s.events.Next(ctx, e)
	add(ctx, metrics(ctx).transitions, attribute.String("state", e.state.String()))
	return e
}

func call[A, R any](ctx context.Context, fn Deferred[A, R], arg A) (result R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return fn(ctx, arg)
}

func stream[R any](ctx context.Context, src Stream[R], emit func(R)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return src(ctx, emit)
}

func first[T any](lis []T) *T {
	if len(lis) == 0 {
		return nil
	}
	return &lis[0]
}

// Pending tracks a running Execute call.
type Pending[A, R any] struct {
	done    chan struct{}
	started Snapshot[A, R]
	event   Snapshot[A, R]
}

// Started returns the InProgress snapshot pushed by this call.
func (p *Pending[A, R]) Started() Snapshot[A, R] {
	return p.started
}

// Done is closed after the terminal snapshot has been pushed.
func (p *Pending[A, R]) Done() <-chan struct{} {
	return p.done
}

// Wait returns the Completed or Failed snapshot pushed by this call.
func (p *Pending[A, R]) Wait(ctx context.Context) (Snapshot[A, R], error) {
	select {
	case <-p.done:
		return p.event, nil
	case <-ctx.Done():
		return Snapshot[A, R]{}, ctx.Err()
	}
}

type options struct {
	carryOnResult bool
}

func newOptions(opts []Option) options {
	o := options{carryOnResult: true}
	for _, opt := range opts {
		opt.apply(&o)
	}
	return o
}

type Option interface {
	apply(*options)
}

// WithCarryOnResult controls whether the previous result is echoed on
// InProgress and Failed snapshots. The default is true.
type WithCarryOnResult bool

func (w WithCarryOnResult) apply(o *options) {
	o.carryOnResult = bool(w)
}

type meters struct {
	transitions syncint64.Counter
	attachments syncint64.Counter
}

var (
	meterOnce sync.Once
	meter     meters
)

func metrics(ctx context.Context) meters {
	meterOnce.Do(func() {
		m := lg.Meter(ctx)

		var err, errs error
		meter.transitions, err = m.SyncInt64().Counter("asyncevent_transitions",
			instrument.WithDescription("snapshots pushed by state"))
		errs = multierr.Append(errs, err)

		meter.attachments, err = m.SyncInt64().Counter("asyncevent_attachments",
			instrument.WithDescription("stream attachments by event"))
		errs = multierr.Append(errs, err)

		if errs != nil {
			_, span := lg.Span(ctx)
			span.RecordError(errs)
			span.End()
		}
	})
	return meter
}

func add(ctx context.Context, c syncint64.Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(ctx, 1, attrs...)
	}
}
