// package registry keeps one asyncevent.Subject per key for the service that
// owns them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/instrument/syncint64"
	"go.uber.org/multierr"

	"github.com/sour-is/asyncevent"
	"github.com/sour-is/asyncevent/internal/lg"
)

var ErrNotFound = errors.New("registry: subject not found")

// NoExpiration keeps subjects until they are deleted.
const NoExpiration = cache.NoExpiration

// Registry caches subjects by key. A subject lives for the registry's expiry
// from the time it was created. Eviction closes the subject and releases its
// attachments.
type Registry[A, R any] struct {
	cache *cache.Cache

	Msubjects syncint64.Counter
}

// New returns a registry. Expired subjects are closed every cleanupInterval;
// a cleanupInterval <= 0 disables the janitor.
func New[A, R any](ctx context.Context, defaultExpire, cleanupInterval time.Duration) *Registry[A, R] {
	ctx, span := lg.Span(ctx)
	defer span.End()

	r := &Registry[A, R]{cache: cache.New(defaultExpire, cleanupInterval)}
	r.cache.OnEvicted(r.evicted)

	var err error
	r.Msubjects, err = lg.Meter(ctx).SyncInt64().Counter("registry_subjects",
		instrument.WithDescription("subjects created and evicted"))
	span.RecordError(err)

	return r
}

// Get returns the subject for key, creating it when missing.
func (r *Registry[A, R]) Get(ctx context.Context, key string) *asyncevent.Subject[A, R] {
	ctx, span := lg.Span(ctx)
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	for {
		if s, ok := r.Lookup(key); ok {
			return s
		}

		// an expired subject still held by the cache would be overwritten
		// without being closed.
		r.cache.DeleteExpired()

		s := asyncevent.New[A, R]()
		if err := r.cache.Add(key, s, cache.DefaultExpiration); err != nil {
			span.AddEvent("lost create race")
			continue
		}
		r.count(ctx, "create")

		return s
	}
}

// Lookup returns the subject for key without creating it.
func (r *Registry[A, R]) Lookup(key string) (*asyncevent.Subject[A, R], bool) {
	v, ok := r.cache.Get(key)
	if !ok {
		return nil, false
	}
	s, ok := v.(*asyncevent.Subject[A, R])
	return s, ok
}

// Execute runs fn on the subject for key.
func (r *Registry[A, R]) Execute(ctx context.Context, key string, arg A, fn asyncevent.Deferred[A, R], opts ...asyncevent.Option) *asyncevent.Pending[A, R] {
	ctx, span := lg.Span(ctx)
	defer span.End()

	return r.Get(ctx, key).Execute(ctx, arg, fn, opts...)
}

// Observe attaches src to the subject for key.
func (r *Registry[A, R]) Observe(ctx context.Context, key string, arg A, src asyncevent.Stream[R], opts ...asyncevent.Option) *asyncevent.Attachment {
	ctx, span := lg.Span(ctx)
	defer span.End()

	return r.Get(ctx, key).Observe(ctx, arg, src, opts...)
}

// Reset pushes NotStarted on an existing subject.
func (r *Registry[A, R]) Reset(ctx context.Context, key string) error {
	ctx, span := lg.Span(ctx)
	defer span.End()

	s, ok := r.Lookup(key)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNotFound, key)
		span.RecordError(err)
		return err
	}
	s.Reset(ctx)

	return nil
}

// Delete removes and closes the subject for key.
func (r *Registry[A, R]) Delete(ctx context.Context, key string) error {
	_, span := lg.Span(ctx)
	defer span.End()

	if _, ok := r.Lookup(key); !ok {
		r.cache.DeleteExpired()

		err := fmt.Errorf("%w: %s", ErrNotFound, key)
		span.RecordError(err)
		return err
	}
	r.cache.Delete(key)

	return nil
}

// Keys returns the sorted keys of live subjects.
func (r *Registry[A, R]) Keys() []string {
	items := r.cache.Items()

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Close removes and closes every subject.
func (r *Registry[A, R]) Close(ctx context.Context) error {
	ctx, span := lg.Span(ctx)
	defer span.End()

	r.cache.DeleteExpired()

	items := r.cache.Items()
	r.cache.Flush()

	var errs error
	for k, item := range items {
		if s, ok := item.Object.(*asyncevent.Subject[A, R]); ok {
			errs = multierr.Append(errs, s.Close(ctx))
			r.count(ctx, "evict")
		}
		span.AddEvent("closed " + k)
	}
	span.RecordError(errs)

	return errs
}

func (r *Registry[A, R]) evicted(key string, v any) {
	ctx, span := lg.Span(context.Background())
	defer span.End()
	span.SetAttributes(attribute.String("key", key))

	s, ok := v.(*asyncevent.Subject[A, R])
	if !ok {
		return
	}
	if err := s.Close(ctx); err != nil {
		span.RecordError(err)
		log.Println("evict", key, err)
	}
	r.count(ctx, "evict")
}

func (r *Registry[A, R]) count(ctx context.Context, event string) {
	if r.Msubjects != nil {
		r.Msubjects.Add(ctx, 1, attribute.String("event", event))
	}
}
