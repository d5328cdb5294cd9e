package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"

	"github.com/sour-is/asyncevent"
)

var usage = `Async event CLI.
usage:
  asyncevent-cli run   [--host HOST] [--no-wait] <key> <arg>
  asyncevent-cli watch [--host HOST] <key>
  asyncevent-cli get   [--host HOST] [<key>]
  asyncevent-cli rm    [--host HOST] <key>

Options:
  --host <host>    Server to use [default: http://localhost:8080]
  --no-wait        Return once the operation has started
`

type opts struct {
	Run    bool `docopt:"run"`
	Watch  bool `docopt:"watch"`
	Get    bool `docopt:"get"`
	Remove bool `docopt:"rm"`

	Host   string `docopt:"--host"`
	NoWait bool   `docopt:"--no-wait"`
	Key    string `docopt:"<key>"`
	Arg    string `docopt:"<arg>"`
}

func main() {
	o, err := docopt.ParseDoc(usage)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	var opts opts
	o.Bind(&opts)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	go func() {
		<-ctx.Done()
		defer cancel() // restore interrupt function
	}()

	if err := run(ctx, opts); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts opts) error {
	u, err := url.Parse(opts.Host)
	if err != nil {
		return err
	}
	u.Path = "/feed/" + url.PathEscape(opts.Key)

	switch {
	case opts.Run:
		// watch first so the terminal snapshot cannot be missed.
		var c *websocket.Conn
		if !opts.NoWait {
			c, err = dial(ctx, *u)
			if err != nil {
				return err
			}
			defer c.Close()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(argument(opts.Arg)))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		e, err := do(req, http.StatusAccepted)
		if err != nil {
			return err
		}
		if opts.NoWait {
			return printYAML(os.Stdout, e)
		}

		// the feed replays the latest snapshot, which may be from an
		// earlier run.
		started := false
		return follow(ctx, c, func(e asyncevent.Snapshot[any, any]) (bool, bool) {
			if e.IsInProgress() {
				started = true
				return true, true
			}
			return started, !started
		})

	case opts.Watch:
		c, err := dial(ctx, *u)
		if err != nil {
			return err
		}
		defer c.Close()

		return follow(ctx, c, func(asyncevent.Snapshot[any, any]) (bool, bool) { return true, true })

	case opts.Get:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		if opts.Key == "" {
			res, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer res.Body.Close()

			var keys []string
			if err = json.NewDecoder(res.Body).Decode(&keys); err != nil {
				return err
			}
			return yaml.NewEncoder(os.Stdout).Encode(keys)
		}

		e, err := do(req, http.StatusOK)
		if err != nil {
			return err
		}
		return printYAML(os.Stdout, e)

	case opts.Remove:
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u.String(), nil)
		if err != nil {
			return err
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		fmt.Println(res.Status)
	}

	return nil
}

// argument sends valid JSON as is and anything else as a JSON string.
func argument(s string) string {
	if json.Valid([]byte(s)) {
		return s
	}
	b, _ := json.Marshal(s)
	return string(b)
}

func do(req *http.Request, want int) (asyncevent.Snapshot[any, any], error) {
	var e asyncevent.Snapshot[any, any]

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return e, err
	}
	defer res.Body.Close()

	if res.StatusCode != want {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return e, fmt.Errorf("%s %s: %s", req.Method, res.Status, strings.TrimSpace(string(b)))
	}

	err = json.NewDecoder(res.Body).Decode(&e)
	return e, err
}

func dial(ctx context.Context, u url.URL) (*websocket.Conn, error) {
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	c, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	return c, err
}

// follow prints the snapshots filter shows until it reports no more or the
// server closes the feed.
func follow(ctx context.Context, c *websocket.Conn, filter func(asyncevent.Snapshot[any, any]) (show, more bool)) error {
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for {
		var e asyncevent.Snapshot[any, any]
		err := c.ReadJSON(&e)
		switch {
		case websocket.IsCloseError(err, websocket.CloseNormalClosure):
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}

		show, more := filter(e)
		if show {
			if err = printYAML(os.Stdout, e); err != nil {
				return err
			}
		}
		if !more {
			return nil
		}
	}
}

type document struct {
	State    string `yaml:"state"`
	Argument any    `yaml:"argument,omitempty"`
	Result   any    `yaml:"result,omitempty"`
	Error    string `yaml:"error,omitempty"`
}

func printYAML(w io.Writer, e asyncevent.Snapshot[any, any]) error {
	doc := document{
		State:    e.State().String(),
		Argument: e.ArgumentValue(),
		Result:   e.ResultValue(),
	}
	if err := e.Err(); err != nil {
		doc.Error = err.Error()
	}

	y := yaml.NewEncoder(w)
	defer y.Close()

	return y.Encode(doc)
}
