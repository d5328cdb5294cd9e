// package lg wires logging, tracing and metrics for asyncevent services.
package lg

import (
	"context"
	"log"

	"go.uber.org/multierr"
)

// Init sets up the logger, meter and tracer. The returned func flushes and
// stops them in reverse order.
func Init(ctx context.Context, name string) (context.Context, func(context.Context) error) {
	b := readBuild(name)

	stop := [3]func() error{
		initLogger(b),
	}
	ctx, stop[1] = initMetrics(ctx, b)
	ctx, stop[2] = initTracing(ctx, b)

	reverse(stop[:])

	return ctx, func(context.Context) error {
		log.Println("flushing logs...")
		errs := make([]error, len(stop))
		for i, fn := range stop {
			if fn != nil {
				errs[i] = fn()
			}
		}
		log.Println("all stopped.")
		return multierr.Combine(errs...)
	}
}

func reverse[T any](s []T) {
	first, last := 0, len(s)-1
	for first < last {
		s[first], s[last] = s[last], s[first]
		first++
		last--
	}
}
