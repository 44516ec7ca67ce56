package ticker

import (
	"context"
	"log/slog"
	"time"
)

// Periodically runs task immediately and then every interval until the context is done.
//
// Cycles never overlap: ticks that arrive while a cycle is still running are dropped. A failed
// cycle is logged and the loop carries on with the next tick.
func Periodically(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, task func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := task(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("periodic task failed", "task", name, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
