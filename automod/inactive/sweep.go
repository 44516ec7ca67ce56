package inactive

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/forgeguard/forgeguard/automod/fetcher"
	"github.com/forgeguard/forgeguard/automod/modstore"
	"github.com/forgeguard/forgeguard/forge"
	"github.com/forgeguard/forgeguard/internal/ticker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// accounts are listed in smaller pages than the moderation pollers use
const sweepPageLimit = 30

// requests one account check can cost
const accountLookahead = 3

var sweepPurged = promauto.NewCounter(prometheus.CounterOpts{
	Name: "forgeguard_inactive_purged",
	Help: "Number of inactive accounts purged",
})

var sweepChecked = promauto.NewCounter(prometheus.CounterOpts{
	Name: "forgeguard_inactive_checked",
	Help: "Number of accounts checked for inactivity",
})

type SweepConfig struct {
	// minimum account age
	Days            int
	Exclude         []string
	SourceIDs       []int64
	SourceIDExclude []int64
	CheckTokens     bool
	CheckApps       bool
	DryRun          bool
}

// Sweeper walks every account oldest first and purges the inactive ones.
type Sweeper struct {
	Fetcher *fetcher.Fetcher
	Budget  *fetcher.Budget
	Checker *Checker
	Store   *modstore.Store
	Config  SweepConfig
	Now     func() time.Time
	Logger  *slog.Logger
}

func NewSweeper(client forge.Client, checker *Checker, store *modstore.Store, budget *fetcher.Budget, cfg SweepConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "inactive-sweep")
	return &Sweeper{
		Fetcher: fetcher.NewFetcher(client, sweepPageLimit, logger),
		Budget:  budget,
		Checker: checker,
		Store:   store,
		Config:  cfg,
		Now:     time.Now,
		Logger:  logger,
	}
}

// excluded reports why an account is out of scope, or "" if it should be checked.
func (s *Sweeper) excluded(ctx context.Context, acct *forge.Account, now time.Time) string {
	switch {
	case acct.IsAdmin:
		return "admin"
	case slices.Contains(s.Config.Exclude, acct.Username):
		return "excluded username"
	case slices.Contains(s.Config.SourceIDExclude, acct.SourceID):
		return "excluded source"
	case len(s.Config.SourceIDs) > 0 && !slices.Contains(s.Config.SourceIDs, acct.SourceID):
		return "source not selected"
	case now.Sub(acct.Created) < time.Duration(s.Config.Days)*24*time.Hour:
		return "too new"
	}
	if s.Store != nil {
		ignored, err := s.Store.Ignored.Has(ctx, acct.Username)
		if err != nil {
			s.Logger.Warn("failed to read ignored table, skipping account", "username", acct.Username, "err", err)
			return "store error"
		}
		if ignored {
			return "ignored"
		}
	}
	return ""
}

// RunOnce performs a full sweep and returns the number of accounts purged (or, in dry-run,
// that would have been).
//
// Purging shifts the oldest-first listing, so inactive accounts are collected during
// pagination and purged once it is done.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.Now()
	var found []string
	err := s.Fetcher.Sweep(ctx, s.Budget, func(ctx context.Context, page []forge.Account) (int, error) {
		for i := range page {
			acct := &page[i]
			if reason := s.excluded(ctx, acct, now); reason != "" {
				s.Logger.Debug("account excluded from inactive check", "username", acct.Username, "source_id", acct.SourceID, "reason", reason)
				continue
			}
			if err := s.Budget.Wait(ctx, accountLookahead); err != nil {
				return 0, err
			}
			sweepChecked.Inc()
			inactive, reqs := s.Checker.IsInactive(ctx, acct.Username, s.Config.CheckTokens, s.Config.CheckApps)
			s.Budget.Spend(reqs)
			if inactive {
				found = append(found, acct.Username)
			}
		}
		return 0, nil
	})
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, username := range found {
		if s.Config.DryRun {
			s.Logger.Info("inactive account (dry run, not purged)", "username", username)
			purged++
			continue
		}
		if err := s.Budget.Take(ctx, 1); err != nil {
			return purged, err
		}
		if err := s.Checker.Client.BanAccount(ctx, username, forge.BanPurge); err != nil {
			s.Logger.Error("failed to purge inactive account", "username", username, "err", err)
			continue
		}
		s.Logger.Info("purged inactive account", "username", username)
		sweepPurged.Inc()
		purged++
	}
	return purged, nil
}

// Run sweeps now and then every interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	s.Logger.Info("starting inactive account sweeper", "interval", interval, "days", s.Config.Days)
	return ticker.Periodically(ctx, s.Logger, "inactive-sweep", interval, func(ctx context.Context) error {
		n, err := s.RunOnce(ctx)
		if err != nil {
			return err
		}
		s.Logger.Info("inactive sweep finished", "purged", n)
		return nil
	})
}
