// package feed serves the subjects of a registry over HTTP and websockets.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument/syncint64"
	"go.uber.org/multierr"

	"github.com/sour-is/asyncevent"
	"github.com/sour-is/asyncevent/internal/lg"
	"github.com/sour-is/asyncevent/pkg/registry"
)

const maxBody = 64 * 1024

type service[A, R any] struct {
	reg    *registry.Registry[A, R]
	fn     asyncevent.Deferred[A, R]
	prefix string

	Mfeed_get       syncint64.Counter
	Mfeed_post      syncint64.Counter
	Mfeed_watch     syncint64.Counter
	Mfeed_watch_msg syncint64.Counter
}

type Option interface {
	ApplyFeed(*config)
}

type config struct {
	prefix string
}

// WithPrefix sets the path the feed is mounted on. The default is "/feed/".
type WithPrefix string

func (o WithPrefix) ApplyFeed(c *config) {
	p := "/" + strings.Trim(string(o), "/") + "/"
	if p == "//" {
		p = "/"
	}
	c.prefix = p
}

// New returns a feed over reg. POST requests run fn with the decoded body as
// argument.
func New[A, R any](ctx context.Context, reg *registry.Registry[A, R], fn asyncevent.Deferred[A, R], opts ...Option) (*service[A, R], error) {
	ctx, span := lg.Span(ctx)
	defer span.End()

	c := &config{prefix: "/feed/"}
	for _, o := range opts {
		o.ApplyFeed(c)
	}

	svc := &service[A, R]{reg: reg, fn: fn, prefix: c.prefix}

	m := lg.Meter(ctx)

	var err, errs error
	svc.Mfeed_get, err = m.SyncInt64().Counter("feed_get")
	errs = multierr.Append(errs, err)

	svc.Mfeed_post, err = m.SyncInt64().Counter("feed_post")
	errs = multierr.Append(errs, err)

	svc.Mfeed_watch, err = m.SyncInt64().Counter("feed_watch")
	errs = multierr.Append(errs, err)

	svc.Mfeed_watch_msg, err = m.SyncInt64().Counter("feed_watch_msg")
	errs = multierr.Append(errs, err)

	span.RecordError(errs)

	return svc, errs
}

var upgrader = websocket.Upgrader{
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *service[A, R]) RegisterHTTP(mux *http.ServeMux) {
	mux.Handle(s.prefix, otelhttp.NewHandler(http.StripPrefix(s.prefix, s), "feed"))
}
func (s *service[A, R]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := lg.Span(ctx)
	defer span.End()
	r = r.WithContext(ctx)

	switch r.Method {
	case http.MethodGet:
		if websocket.IsWebSocketUpgrade(r) {
			s.watch(w, r)
			return
		}

		s.get(w, r)
	case http.MethodPost, http.MethodPut:
		s.post(w, r)
	case http.MethodDelete:
		s.delete(w, r)
	default:
		span.AddEvent("method not allow: " + r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *service[A, R]) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := lg.Span(ctx)
	defer span.End()

	key := keyOf(r)
	if key == "" {
		s.keys(w, r)
		return
	}
	span.SetAttributes(attribute.String("key", key))
	add(ctx, s.Mfeed_get)

	sub, ok := s.reg.Lookup(key)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeJSON(ctx, w, http.StatusOK, sub.Value())
}

func (s *service[A, R]) keys(w http.ResponseWriter, r *http.Request) {
	ctx, span := lg.Span(r.Context())
	defer span.End()

	writeJSON(ctx, w, http.StatusOK, s.reg.Keys())
}

func (s *service[A, R]) post(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := lg.Span(ctx)
	defer span.End()

	key := keyOf(r)
	if key == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	span.SetAttributes(attribute.String("key", key))
	add(ctx, s.Mfeed_post)

	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		span.RecordError(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.Body.Close()

	if len(b) > maxBody {
		span.AddEvent("request too large")
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	var arg A
	if err := json.Unmarshal(b, &arg); err != nil {
		span.RecordError(err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// the operation outlives the request.
	p := s.reg.Execute(context.WithoutCancel(ctx), key, arg, s.fn)
	span.AddEvent(fmt.Sprint("POST key=", key))

	writeJSON(ctx, w, http.StatusAccepted, p.Started())
}

func (s *service[A, R]) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := lg.Span(ctx)
	defer span.End()

	key := keyOf(r)
	err := s.reg.Delete(ctx, key)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case err != nil:
		span.RecordError(err)
		w.WriteHeader(http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *service[A, R]) watch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := lg.Span(ctx)
	defer span.End()

	key := keyOf(r)
	if key == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	span.SetAttributes(attribute.String("key", key))
	add(ctx, s.Mfeed_watch)

	// watching an unknown key creates its subject so a client can subscribe
	// before posting the run. It lives for the registry expiry like any other.
	sub, err := s.reg.Get(ctx, key).Observable().Subscribe(ctx)
	if err != nil {
		span.RecordError(err)
		w.WriteHeader(http.StatusGone)
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		span.AddEvent("stop ws")
		sub.Close(ctx)
	}()

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.RecordError(err)
		return
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.SetCloseHandler(func(code int, text string) error {
		cancel()
		return nil
	})
	go func() {
		defer cancel()
		for {
			if err := ctx.Err(); err != nil {
				return
			}
			mt, message, err := c.ReadMessage()
			if err != nil {
				span.RecordError(err)
				return
			}
			span.AddEvent(fmt.Sprintf("recv: %d %s", mt, message))
		}
	}()

	span.AddEvent("start ws " + sub.ID())
	for {
		e, ok := sub.Recv(ctx)
		if !ok {
			break
		}
		add(ctx, s.Mfeed_watch_msg)

		if err = c.WriteJSON(e); err != nil {
			span.RecordError(err)
			return
		}
	}

	if ctx.Err() == nil {
		// the subject was closed.
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closed")
		err = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		span.RecordError(err)
	}
}

func keyOf(r *http.Request) string {
	key, _, _ := strings.Cut(r.URL.Path, "/")
	return key
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	_, span := lg.Span(ctx)
	defer span.End()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		span.RecordError(err)
	}
}

func add(ctx context.Context, c syncint64.Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}
