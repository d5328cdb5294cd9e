package feed_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	"github.com/sour-is/asyncevent"
	"github.com/sour-is/asyncevent/pkg/feed"
	"github.com/sour-is/asyncevent/pkg/registry"
)

type snapshot struct {
	State    string `json:"state"`
	Argument string `json:"argument"`
	Result   string `json:"result"`
	Error    string `json:"error"`
}

func setup(t *testing.T, fn asyncevent.Deferred[string, string]) (*registry.Registry[string, string], *httptest.Server) {
	t.Helper()
	is := is.New(t)
	ctx := context.Background()

	reg := registry.New[string, string](ctx, registry.NoExpiration, 0)
	svc, err := feed.New(ctx, reg, fn)
	is.NoErr(err)

	mux := http.NewServeMux()
	svc.RegisterHTTP(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { reg.Close(context.Background()) })

	return reg, srv
}

func upper(ctx context.Context, s string) (string, error) {
	if s == "fail" {
		return "", errors.New("cannot upper fail")
	}
	return strings.ToUpper(s), nil
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()

	res, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(v); err != nil {
			t.Fatal(err)
		}
	}
	return res.StatusCode
}

func TestGetMissing(t *testing.T) {
	is := is.New(t)
	_, srv := setup(t, upper)

	var e snapshot
	is.Equal(getJSON(t, srv.URL+"/feed/nope", &e), http.StatusNotFound)
}

func TestPostThenGet(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	release := make(chan struct{})
	reg, srv := setup(t, func(ctx context.Context, s string) (string, error) {
		<-release
		return upper(ctx, s)
	})

	res, err := http.Post(srv.URL+"/feed/job", "application/json", strings.NewReader(`"hello"`))
	is.NoErr(err)
	defer res.Body.Close()
	is.Equal(res.StatusCode, http.StatusAccepted)

	var started snapshot
	is.NoErr(json.NewDecoder(res.Body).Decode(&started))
	is.Equal(started, snapshot{State: "loading", Argument: "hello"})

	var e snapshot
	is.Equal(getJSON(t, srv.URL+"/feed/job", &e), http.StatusOK)
	is.Equal(e.State, "loading")

	close(release)
	s, ok := reg.Lookup("job")
	is.True(ok)

	sub, err := s.Observable().Subscribe(ctx)
	is.NoErr(err)
	defer sub.Close(ctx)

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	for {
		v, ok := sub.Recv(rctx)
		is.True(ok) // operation completes
		if v.IsCompleted() {
			break
		}
	}

	is.Equal(getJSON(t, srv.URL+"/feed/job", &e), http.StatusOK)
	is.Equal(e, snapshot{State: "loaded", Argument: "hello", Result: "HELLO"})

	var keys []string
	is.Equal(getJSON(t, srv.URL+"/feed/", &keys), http.StatusOK)
	is.Equal(keys, []string{"job"})
}

func TestPostBadBody(t *testing.T) {
	is := is.New(t)
	_, srv := setup(t, upper)

	res, err := http.Post(srv.URL+"/feed/job", "application/json", strings.NewReader(`{not json`))
	is.NoErr(err)
	res.Body.Close()
	is.Equal(res.StatusCode, http.StatusBadRequest)
}

func TestDelete(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	reg, srv := setup(t, upper)

	reg.Get(ctx, "gone")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/feed/gone", nil)
	is.NoErr(err)
	res, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	res.Body.Close()
	is.Equal(res.StatusCode, http.StatusNoContent)

	res, err = http.DefaultClient.Do(req)
	is.NoErr(err)
	res.Body.Close()
	is.Equal(res.StatusCode, http.StatusNotFound)
}

func TestWatch(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	reg, srv := setup(t, upper)

	_, err := reg.Execute(ctx, "job", "first", upper).Wait(ctx)
	is.NoErr(err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed/job"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	is.NoErr(err)
	defer c.Close()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))

	var e snapshot
	is.NoErr(c.ReadJSON(&e))
	is.Equal(e, snapshot{State: "loaded", Argument: "first", Result: "FIRST"}) // latest is replayed

	_, err = reg.Execute(ctx, "job", "fail", upper).Wait(ctx)
	is.NoErr(err)

	is.NoErr(c.ReadJSON(&e))
	is.Equal(e, snapshot{State: "loading", Argument: "fail", Result: "FIRST"})

	is.NoErr(c.ReadJSON(&e))
	is.Equal(e, snapshot{State: "error", Argument: "fail", Result: "FIRST", Error: "cannot upper fail"})

	// deleting the subject ends the watch.
	is.NoErr(reg.Delete(ctx, "job"))
	_, _, err = c.ReadMessage()
	is.True(websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestWithPrefix(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	reg := registry.New[string, string](ctx, registry.NoExpiration, 0)
	defer reg.Close(ctx)
	reg.Get(ctx, "job")

	svc, err := feed.New(ctx, reg, upper, feed.WithPrefix("/events"))
	is.NoErr(err)

	mux := http.NewServeMux()
	svc.RegisterHTTP(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/events/job", nil))
	is.Equal(w.Code, http.StatusOK)

	var e snapshot
	is.NoErr(json.NewDecoder(w.Body).Decode(&e))
	is.Equal(e.State, "init")

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/feed/job", nil))
	is.Equal(w.Code, http.StatusNotFound)
}

func TestWatchBeforeRun(t *testing.T) {
	is := is.New(t)
	reg, srv := setup(t, upper)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed/later"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	is.NoErr(err)
	defer c.Close()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))

	var e snapshot
	is.NoErr(c.ReadJSON(&e))
	is.Equal(e.State, "init")

	// the watch created the subject.
	_, ok := reg.Lookup("later")
	is.True(ok)

	res, err := http.Post(srv.URL+"/feed/later", "application/json", strings.NewReader(`"hi"`))
	is.NoErr(err)
	res.Body.Close()
	is.Equal(res.StatusCode, http.StatusAccepted)

	is.NoErr(c.ReadJSON(&e))
	is.Equal(e, snapshot{State: "loading", Argument: "hi"})
	is.NoErr(c.ReadJSON(&e))
	is.Equal(e, snapshot{State: "loaded", Argument: "hi", Result: "HI"})
}
