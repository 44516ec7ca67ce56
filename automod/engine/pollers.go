package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgeguard/forgeguard/automod/fetcher"
	"github.com/forgeguard/forgeguard/forge"
	"github.com/forgeguard/forgeguard/internal/ticker"
)

// ProcessBatch runs accounts through the pipeline in order, keeping a lookahead reserve in the
// budget before each one. Returns the ids of the accounts that were purged.
func (eng *Engine) ProcessBatch(ctx context.Context, budget *fetcher.Budget, accts []forge.Account, opts ProcessOptions) ([]int64, error) {
	var purged []int64
	for i := range accts {
		if err := budget.Wait(ctx, AccountLookahead); err != nil {
			return purged, err
		}
		reqs, gone := eng.processAccount(ctx, &accts[i], opts)
		budget.Spend(reqs)
		if gone {
			purged = append(purged, accts[i].ID)
		}
	}
	return purged, nil
}

// PollNewest fetches accounts created since the watermark and processes them.
func (eng *Engine) PollNewest(ctx context.Context, f *fetcher.Fetcher, budget *fetcher.Budget, wm *fetcher.Watermark) error {
	start := time.Now()
	accts, err := f.FetchNewest(ctx, budget, wm)
	if err != nil {
		return fmt.Errorf("fetching new accounts: %w", err)
	}
	_, err = eng.ProcessBatch(ctx, budget, accts, ProcessOptions{})
	pollDuration.WithLabelValues("newest").Observe(time.Since(start).Seconds())
	return err
}

// PollUpdated fetches accounts updated since the last poll and processes them.
func (eng *Engine) PollUpdated(ctx context.Context, f *fetcher.Fetcher, budget *fetcher.Budget, win *fetcher.Window) error {
	start := time.Now()
	accts, err := f.FetchUpdated(ctx, budget, win)
	if err != nil {
		return fmt.Errorf("fetching updated accounts: %w", err)
	}
	purged, err := eng.ProcessBatch(ctx, budget, accts, ProcessOptions{})
	// purged accounts are gone from the listing and can't stop the next poll
	win.Forget(purged...)
	pollDuration.WithLabelValues("updated").Observe(time.Since(start).Seconds())
	return err
}

// RunNewest primes the watermark from the current newest account, then polls every interval.
// Accounts that existed before startup are left to the backfill sweep. Until priming succeeds,
// every tick retries it instead of polling.
func (eng *Engine) RunNewest(ctx context.Context, f *fetcher.Fetcher, budget *fetcher.Budget, interval time.Duration) error {
	var wm fetcher.Watermark
	primed := false
	eng.Logger.Info("starting new accounts poller", "interval", interval)
	return ticker.Periodically(ctx, eng.Logger, "newest", interval, func(ctx context.Context) error {
		if !primed {
			if err := f.PrimeNewest(ctx, budget, &wm); err != nil {
				return fmt.Errorf("priming newest accounts: %w", err)
			}
			primed = true
		}
		return eng.PollNewest(ctx, f, budget, &wm)
	})
}

// RunUpdated primes the window from the most recently updated accounts, then polls every
// interval. Priming is retried on each tick until it succeeds.
func (eng *Engine) RunUpdated(ctx context.Context, f *fetcher.Fetcher, budget *fetcher.Budget, interval time.Duration) error {
	win := fetcher.NewWindow(fetcher.DefaultWindowSize)
	primed := false
	eng.Logger.Info("starting updated accounts poller", "interval", interval)
	return ticker.Periodically(ctx, eng.Logger, "updated", interval, func(ctx context.Context) error {
		if !primed {
			if err := f.PrimeUpdated(ctx, budget, win); err != nil {
				return fmt.Errorf("priming updated accounts: %w", err)
			}
			primed = true
		}
		return eng.PollUpdated(ctx, f, budget, win)
	})
}

// RunBackfill sweeps every existing account once, oldest first. It bans on match and alerts on
// sus matches, but sends no ban notifications. If the forge stays unreachable the sweep is
// abandoned and logged; it is not retried.
func (eng *Engine) RunBackfill(ctx context.Context, f *fetcher.Fetcher, budget *fetcher.Budget) error {
	eng.Logger.Info("starting existing accounts sweep")
	start := time.Now()
	err := f.Sweep(ctx, budget, func(ctx context.Context, page []forge.Account) (int, error) {
		purged, err := eng.ProcessBatch(ctx, budget, page, BackfillOptions)
		return len(purged), err
	})
	pollDuration.WithLabelValues("backfill").Observe(time.Since(start).Seconds())
	if errors.Is(err, fetcher.ErrRetriesExhausted) {
		eng.Logger.Error("existing accounts sweep abandoned", "duration", time.Since(start), "err", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("sweeping existing accounts: %w", err)
	}
	eng.Logger.Info("existing accounts sweep finished", "duration", time.Since(start))
	return nil
}
