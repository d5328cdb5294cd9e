package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/sour-is/asyncevent/pkg/service"
)

func TestAppsOrder(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	var apps service.Apps
	var order []int
	apps.Register(50, func(ctx context.Context, svc *service.Harness) error {
		order = append(order, 50)
		return nil
	})
	apps.Register(10, func(ctx context.Context, svc *service.Harness) error {
		order = append(order, 10)
		svc.Add("ten")
		return nil
	})

	svc := &service.Harness{}
	is.NoErr(svc.Setup(ctx, apps.Apps()...))
	is.Equal(order, []int{10, 50})
	is.Equal(svc.Services, []any{"ten"})
}

func TestSetupError(t *testing.T) {
	is := is.New(t)

	errBoom := errors.New("boom")
	called := false

	svc := &service.Harness{}
	err := svc.Setup(context.Background(),
		func(ctx context.Context, h *service.Harness) error { return errBoom },
		func(ctx context.Context, h *service.Harness) error { called = true; return nil },
	)
	is.True(errors.Is(err, errBoom))
	is.True(!called)
}

func TestRun(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())

	var stopped []string
	svc := &service.Harness{}
	svc.OnStart(func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return nil
	})
	svc.OnStop(func(ctx context.Context) error {
		stopped = append(stopped, "first")
		return nil
	})
	svc.OnStop(func(ctx context.Context) error {
		stopped = append(stopped, "second")
		return nil
	})

	is.NoErr(svc.Run(ctx, "test", "v0"))
	is.Equal(stopped, []string{"second", "first"})
}

func TestRunStartError(t *testing.T) {
	is := is.New(t)

	errBoom := errors.New("boom")
	stopped := false

	svc := &service.Harness{}
	svc.OnStart(func(ctx context.Context) error { return errBoom })
	svc.OnStop(func(ctx context.Context) error { stopped = true; return nil })

	err := svc.Run(context.Background(), "test", "v0")
	is.True(errors.Is(err, errBoom))
	is.True(stopped)
}

func TestAppName(t *testing.T) {
	is := is.New(t)

	name, version := service.AppName()
	is.True(name != "")
	is.True(version != "")
}
