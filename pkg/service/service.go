// package service runs a set of registered apps until the context ends.
package service

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/sour-is/asyncevent/internal/lg"
)

type (
	setupFn func(context.Context, *Harness) error
	hookFn  func(context.Context) error
)

// Harness holds the services created by apps and the hooks that start and
// stop them.
type Harness struct {
	Services []any

	onStart []hookFn
	onStop  []hookFn
}

func (s *Harness) Add(svcs ...any) {
	s.Services = append(s.Services, svcs...)
}
func (s *Harness) OnStart(fns ...hookFn) {
	s.onStart = append(s.onStart, fns...)
}

// OnStop hooks run in reverse order of registration.
func (s *Harness) OnStop(fns ...hookFn) {
	s.onStop = append(s.onStop, fns...)
}

// Setup runs every app in order. It stops at the first app that fails.
func (s *Harness) Setup(ctx context.Context, apps ...setupFn) error {
	ctx, span := lg.Span(ctx)
	defer span.End()

	for i, app := range apps {
		if err := app(ctx, s); err != nil {
			err = fmt.Errorf("setup app %d: %w", i, err)
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// Run starts every OnStart hook and blocks until ctx ends or a hook fails,
// then runs the OnStop hooks.
func (s *Harness) Run(ctx context.Context, appName, version string) error {
	_, span := lg.Span(ctx)
	span.AddEvent(fmt.Sprint("start ", appName, " ", version))
	span.End()
	log.Println(appName, version, "starting", len(s.onStart), "services")

	g, ctx := errgroup.WithContext(ctx)
	for i := range s.onStart {
		fn := s.onStart[i]
		g.Go(func() error { return fn(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var errs error
		for i := len(s.onStop) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, s.onStop[i](ctx))
		}
		log.Println(appName, "stopped")

		return errs
	})

	return g.Wait()
}

type app struct {
	priority int
	fn       setupFn
}

// Apps collects setup functions from package level vars.
type Apps struct {
	lis []app
}

// Register adds fn to run at priority. Lower runs first. It returns true so it
// can be called from a var declaration.
func (a *Apps) Register(priority int, fn setupFn) bool {
	a.lis = append(a.lis, app{priority, fn})
	return true
}

// Apps returns the setup functions in priority order.
func (a *Apps) Apps() []setupFn {
	lis := make([]app, len(a.lis))
	copy(lis, a.lis)
	sort.SliceStable(lis, func(i, j int) bool { return lis[i].priority < lis[j].priority })

	fns := make([]setupFn, len(lis))
	for i := range lis {
		fns[i] = lis[i].fn
	}
	return fns
}

// AppName returns the binary name and module version from the build info.
func AppName() (string, string) {
	name, version := "asyncevent", "(devel)"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Path != "" {
			_, name, _ = cut(info.Path)
		}
		if info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	return name, version
}

func cut(path string) (string, string, bool) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path, false
	}
	return path[:i], path[i+1:], true
}
