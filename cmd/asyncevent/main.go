package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/sour-is/asyncevent/internal/lg"
	"github.com/sour-is/asyncevent/pkg/service"
)

var apps service.Apps
var appName, version = service.AppName()

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	go func() {
		<-ctx.Done()
		defer cancel() // restore interrupt function
	}()
	if err := Run(ctx); err != nil {
		log.Fatal(err)
	}
}
func Run(ctx context.Context) error {
	svc := &service.Harness{}
	ctx, stop := lg.Init(ctx, appName)
	svc.OnStop(stop)
	svc.Add(lg.NewHTTP(ctx))
	if err := svc.Setup(ctx, apps.Apps()...); err != nil {
		return err
	}

	// Run application
	if err := svc.Run(ctx, appName, version); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
