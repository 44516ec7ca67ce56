// Deferred purges: accounts a moderator chose to ban sit in the purge queue for a grace period,
// during which the decision can be undone, and are purged by a periodic pass afterwards.
package lazypurge

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgeguard/forgeguard/automod/fetcher"
	"github.com/forgeguard/forgeguard/automod/modstore"
	"github.com/forgeguard/forgeguard/forge"
	"github.com/forgeguard/forgeguard/internal/ticker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var purgedCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "forgeguard_lazy_purged",
	Help: "Number of queued accounts purged after their grace period",
})

var purgeErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "forgeguard_lazy_purge_errors",
	Help: "Number of failed deferred purges (retried on the next pass)",
})

type Scheduler struct {
	Client     forge.Client
	Store      *modstore.Store
	Budget     *fetcher.Budget
	PurgeAfter time.Duration
	DryRun     bool
	Now        func() time.Time
	Logger     *slog.Logger
}

func NewScheduler(client forge.Client, store *modstore.Store, budget *fetcher.Budget, purgeAfter time.Duration, dryRun bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Client:     client,
		Store:      store,
		Budget:     budget,
		PurgeAfter: purgeAfter,
		DryRun:     dryRun,
		Now:        time.Now,
		Logger:     logger.With("component", "lazypurge"),
	}
}

// Due returns the queued usernames whose grace period has passed.
func (s *Scheduler) Due(ctx context.Context) ([]string, error) {
	entries, err := s.Store.PurgeQueue.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	var due []string
	for _, e := range entries {
		if !now.Before(e.EnqueuedAt.Add(s.PurgeAfter)) {
			due = append(due, e.Username)
		}
	}
	return due, nil
}

// RunOnce purges every due account and returns how many were purged. A failed purge leaves
// the entry queued for the next pass. In dry-run the purge call is skipped but the state is
// cleared as if it had succeeded.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := s.Due(ctx)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	s.Logger.Info("starting lazy purge", "due", len(due))
	purged := 0
	for _, username := range due {
		if err := s.Budget.Take(ctx, 1); err != nil {
			return purged, err
		}
		if s.DryRun {
			s.Logger.Info("lazy purge (dry run, not purged)", "username", username)
		} else if err := s.Client.BanAccount(ctx, username, forge.BanPurge); err != nil {
			purgeErrors.Inc()
			s.Logger.Error("failed to lazy purge account", "username", username, "err", err)
			continue
		}

		// three independent writes; a failure leaves stale rows that the next pass or a
		// moderator callback cleans up
		if err := s.Store.PurgeQueue.Remove(ctx, username); err != nil {
			s.Logger.Warn("failed to remove purge queue entry", "username", username, "err", err)
		}
		if err := s.Store.Alerted.Remove(ctx, username); err != nil {
			s.Logger.Warn("failed to remove alerted entry", "username", username, "err", err)
		}
		if _, err := s.Store.Events.RemoveAllFor(ctx, username); err != nil {
			s.Logger.Warn("failed to remove events", "username", username, "err", err)
		}
		purgedCount.Inc()
		purged++
	}
	s.Logger.Info("done lazy purge", "purged", purged)
	return purged, nil
}

// Run starts the periodic purge pass. The first pass runs immediately.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	s.Logger.Info("starting lazy purge worker", "interval", interval, "purge_after", s.PurgeAfter)
	return ticker.Periodically(ctx, s.Logger, "lazy-purge", interval, func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		return err
	})
}
