package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forgeguard/forgeguard/forge"
)

var ErrRetriesExhausted = errors.New("fetch retries exhausted")

const (
	DefaultMaxRetries = 10
	DefaultRetryBase  = 30 * time.Second
	DefaultWindowSize = 7
	DefaultPageLimit  = 100
)

// Fetcher paginates forge account listings.
type Fetcher struct {
	Client forge.Client
	// page size
	Limit int
	// attempts per page before the cycle is abandoned
	MaxRetries int
	// attempt k waits RetryBase*k before retrying
	RetryBase time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error
	Logger    *slog.Logger
}

func NewFetcher(client forge.Client, limit int, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	return &Fetcher{
		Client:     client,
		Limit:      limit,
		MaxRetries: DefaultMaxRetries,
		RetryBase:  DefaultRetryBase,
		Sleep:      SleepContext,
		Logger:     logger.With("component", "fetcher"),
	}
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if f.Sleep == nil {
		return SleepContext(ctx, d)
	}
	return f.Sleep(ctx, d)
}

// fetchPage gets one page, spending one budget request per attempt and retrying transient
// failures with linear backoff.
func (f *Fetcher) fetchPage(ctx context.Context, budget *Budget, sort forge.Sort, page, limit int) ([]forge.Account, error) {
	attempt := 0
	for {
		if err := budget.Take(ctx, 1); err != nil {
			return nil, err
		}
		accts, err := f.Client.ListAccounts(ctx, sort, page, limit)
		if err == nil {
			pagesFetched.WithLabelValues(string(sort)).Inc()
			return accts, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fetchErrors.WithLabelValues(string(sort)).Inc()
		attempt++
		if attempt >= f.MaxRetries {
			fetchAbandoned.WithLabelValues(string(sort)).Inc()
			return nil, fmt.Errorf("%w: %s page %d after %d attempts: %w", ErrRetriesExhausted, sort, page, attempt, err)
		}
		wait := f.RetryBase * time.Duration(attempt)
		f.Logger.Error("failed to fetch accounts page, retrying", "sort", sort, "page", page, "attempt", attempt, "wait", wait, "err", err)
		if err := f.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// FetchNewest returns accounts with an id above the watermark, newest first, and advances the
// watermark to the highest id seen. On error nothing is returned and the watermark is left
// alone, so the next cycle starts over from page 1.
func (f *Fetcher) FetchNewest(ctx context.Context, budget *Budget, wm *Watermark) ([]forge.Account, error) {
	mark := wm.Load()
	var out []forge.Account
	for page := 1; ; page++ {
		accts, err := f.fetchPage(ctx, budget, forge.SortNewest, page, f.Limit)
		if err != nil {
			return nil, err
		}
		kept := 0
		for _, a := range accts {
			if a.ID > mark {
				out = append(out, a)
				kept++
			}
		}
		if kept == 0 || len(accts) < f.Limit {
			break
		}
	}

	for _, a := range out {
		wm.Advance(a.ID)
	}
	accountsFetched.WithLabelValues(string(forge.SortNewest)).Add(float64(len(out)))
	f.Logger.Debug("fetched newest accounts", "count", len(out), "watermark", wm.Load())
	return out, nil
}

// FetchUpdated returns recently updated accounts up to (not including) the first one already
// in the window, then folds their ids into the window.
func (f *Fetcher) FetchUpdated(ctx context.Context, budget *Budget, win *Window) ([]forge.Account, error) {
	var out []forge.Account
	caughtUp := false
	for page := 1; !caughtUp; page++ {
		accts, err := f.fetchPage(ctx, budget, forge.SortRecentUpdate, page, f.Limit)
		if err != nil {
			return nil, err
		}
		for _, a := range accts {
			if win.Contains(a.ID) {
				caughtUp = true
				break
			}
			out = append(out, a)
		}
		if len(accts) < f.Limit {
			break
		}
	}

	ids := make([]int64, len(out))
	for i, a := range out {
		ids[i] = a.ID
	}
	win.Update(ids)
	accountsFetched.WithLabelValues(string(forge.SortRecentUpdate)).Add(float64(len(out)))
	f.Logger.Debug("fetched recently updated accounts", "count", len(out))
	return out, nil
}

// Sweep walks every account oldest first, handing each page of unseen accounts to fn. fn shares
// the budget with the pagination, so per-account work should Take from it too, and returns how
// many of the accounts it removed from the forge. An error from fn stops the sweep.
//
// Removed accounts shift the rest of the listing back, so after a page with removals the same
// page number is fetched again and accounts already handed out are skipped by id.
func (f *Fetcher) Sweep(ctx context.Context, budget *Budget, fn func(ctx context.Context, page []forge.Account) (int, error)) error {
	var lastID int64
	page := 1
	for {
		accts, err := f.fetchPage(ctx, budget, forge.SortOldest, page, f.Limit)
		if err != nil {
			return err
		}
		var fresh []forge.Account
		for _, a := range accts {
			if a.ID > lastID {
				fresh = append(fresh, a)
			}
		}
		removed := 0
		if len(fresh) > 0 {
			accountsFetched.WithLabelValues(string(forge.SortOldest)).Add(float64(len(fresh)))
			lastID = fresh[len(fresh)-1].ID
			removed, err = fn(ctx, fresh)
			if err != nil {
				return err
			}
		}
		if len(accts) < f.Limit {
			f.Logger.Info("sweep finished", "last_id", lastID)
			return nil
		}
		if removed == 0 {
			page++
		}
	}
}

// PrimeNewest sets the watermark to the current newest account id, so existing accounts are
// not treated as new.
func (f *Fetcher) PrimeNewest(ctx context.Context, budget *Budget, wm *Watermark) error {
	accts, err := f.fetchPage(ctx, budget, forge.SortNewest, 1, 1)
	if err != nil {
		return err
	}
	if len(accts) > 0 {
		wm.Advance(accts[0].ID)
	}
	f.Logger.Info("primed newest watermark", "watermark", wm.Load())
	return nil
}

// PrimeUpdated fills the window from the first page of recently updated accounts.
func (f *Fetcher) PrimeUpdated(ctx context.Context, budget *Budget, win *Window) error {
	accts, err := f.fetchPage(ctx, budget, forge.SortRecentUpdate, 1, win.size)
	if err != nil {
		return err
	}
	ids := make([]int64, len(accts))
	for i, a := range accts {
		ids[i] = a.ID
	}
	win.Update(ids)
	f.Logger.Info("primed recently updated window", "size", len(ids))
	return nil
}
