package fetcher

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SleepContext sleeps for d, returning early with ctx.Err() if the context is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Budget is a fixed-window request budget: at most Limit requests, after which the holder
// sleeps one full Window before the count resets.
//
// The window starts when the budget runs out, not when the first request was made. This
// mirrors how the forge rate limiter is usually configured and keeps the behavior simple to
// reason about when one cycle is much shorter than the window.
type Budget struct {
	Limit  int
	Window time.Duration

	// Sleep is used for the window wait; defaults to SleepContext
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger

	mu   sync.Mutex
	used int
	name string
}

func NewBudget(name string, limit int, window time.Duration) *Budget {
	return &Budget{
		Limit:  limit,
		Window: window,
		Sleep:  SleepContext,
		Logger: slog.Default().With("component", "budget", "budget", name),
		name:   name,
	}
}

// Wait blocks for one window if spending n more requests would exceed the limit.
func (b *Budget) Wait(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	exhausted := b.used+n > b.Limit
	used := b.used
	b.mu.Unlock()
	if !exhausted {
		return nil
	}

	b.Logger.Debug("request budget reached, waiting", "used", used, "limit", b.Limit, "window", b.Window)
	budgetWaits.WithLabelValues(b.name).Inc()
	sleep := b.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	if err := sleep(ctx, b.Window); err != nil {
		return err
	}
	b.mu.Lock()
	b.used = 0
	b.mu.Unlock()
	return nil
}

// Spend records n requests against the budget.
func (b *Budget) Spend(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.used += n
	b.mu.Unlock()
	budgetRequests.WithLabelValues(b.name).Add(float64(n))
}

// Take waits for room for n requests, then spends them.
func (b *Budget) Take(ctx context.Context, n int) error {
	if err := b.Wait(ctx, n); err != nil {
		return err
	}
	b.Spend(n)
	return nil
}

func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
