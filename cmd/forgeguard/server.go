package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/forgeguard/forgeguard/automod/cachestore"
	"github.com/forgeguard/forgeguard/automod/engine"
	"github.com/forgeguard/forgeguard/automod/fetcher"
	"github.com/forgeguard/forgeguard/automod/inactive"
	"github.com/forgeguard/forgeguard/automod/lazypurge"
	"github.com/forgeguard/forgeguard/automod/modstore"
	"github.com/forgeguard/forgeguard/bots"
	"github.com/forgeguard/forgeguard/bots/matrix"
	"github.com/forgeguard/forgeguard/bots/slack"
	"github.com/forgeguard/forgeguard/bots/telegram"
	"github.com/forgeguard/forgeguard/config"
	"github.com/forgeguard/forgeguard/forge"
	"github.com/forgeguard/forgeguard/util"

	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// inactivity verdicts are memoized briefly, so an account alerted by several pollers is
	// only checked once
	inactiveCacheSize = 10_000
	inactiveCacheTTL  = 10 * time.Minute

	forgeTimeout = 30 * time.Second
	// longer than the telegram long-poll timeout
	botTimeout = 90 * time.Second
)

type Server struct {
	Config   *config.Config
	Engine   *engine.Engine
	Store    *modstore.Store
	Client   forge.Client
	FrontEnd bots.FrontEnd
	Logger   *slog.Logger

	sweeper *inactive.Sweeper
	purger  *lazypurge.Scheduler
}

func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := modstore.Open(cfg.Database.Path, cfg.Database.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("opening moderation store: %w", err)
	}

	var cache cachestore.CacheStore
	if cfg.Database.RedisURL != "" {
		rc, err := cachestore.NewRedisCacheStore(cfg.Database.RedisURL, inactiveCacheTTL)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connecting cache: %w", err)
		}
		cache = rc
	} else {
		cache = cachestore.NewMemCacheStore(inactiveCacheSize, inactiveCacheTTL)
	}

	apiClient := forge.NewAPIClient(cfg.Forgejo.InstanceURL, cfg.Forgejo.Token, util.RobustHTTPClient(logger, forgeTimeout))
	apiClient.Logger = logger.With("component", "forge")
	if cfg.Forgejo.RateLimit > 0 {
		apiClient.Limiter = rate.NewLimiter(rate.Limit(cfg.Forgejo.RateLimit), 1)
	}

	checker := inactive.NewChecker(apiClient, cache, logger)
	exprs := cfg.Expressions
	eng := &engine.Engine{
		Logger:  logger.With("component", "engine"),
		Client:  apiClient,
		Store:   store,
		Checker: checker,
		Ban:     &exprs.Ban,
		Sus:     &exprs.Sus,
		Settings: engine.Settings{
			DryRun:       cfg.DryRun,
			SafeMode:     exprs.SafeMode,
			BanAlert:     exprs.BanAlert,
			BanAction:    exprs.BanAction,
			ActiveNotice: exprs.ActiveNotice,
			CheckTokens:  cfg.Inactive.CheckTokens,
			CheckApps:    cfg.Inactive.CheckOAuth2,
			LazyPurge:    cfg.LazyPurge.Enabled,
		},
	}

	srv := &Server{
		Config: cfg,
		Engine: eng,
		Store:  store,
		Client: apiClient,
		Logger: logger,
	}

	if cfg.FrontEnd() != "" {
		eng.Alerts = engine.NewDispatcher(engine.DefaultQueueSize)
		fe, err := newFrontEnd(cfg, eng, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		srv.FrontEnd = fe
	}

	if cfg.Inactive.Enabled {
		budget := fetcher.NewBudget("inactive", cfg.Inactive.ReqLimit, cfg.Inactive.ReqInterval)
		srv.sweeper = inactive.NewSweeper(apiClient, checker, store, budget, inactive.SweepConfig{
			Days:            cfg.Inactive.Days,
			Exclude:         cfg.Inactive.Exclude,
			SourceIDs:       cfg.Inactive.SourceID,
			SourceIDExclude: cfg.Inactive.SourceIDExclude,
			CheckTokens:     cfg.Inactive.CheckTokens,
			CheckApps:       cfg.Inactive.CheckOAuth2,
			DryRun:          cfg.DryRun,
		}, logger)
	}

	if cfg.LazyPurge.Enabled {
		budget := fetcher.NewBudget("lazy-purge", cfg.LazyPurge.ReqLimit, cfg.LazyPurge.ReqInterval)
		srv.purger = lazypurge.NewScheduler(apiClient, store, budget, cfg.LazyPurge.PurgeAfter, cfg.DryRun, logger)
	}

	return srv, nil
}

// newFrontEnd builds the one enabled chat front-end.
func newFrontEnd(cfg *config.Config, eng *engine.Engine, logger *slog.Logger) (bots.FrontEnd, error) {
	render := bots.Renderer{
		BanAction: cfg.Expressions.BanAction,
		HideEmail: cfg.HideUserEmail,
		DryRun:    cfg.DryRun,
	}
	client := util.RobustHTTPClient(logger, botTimeout)
	switch cfg.FrontEnd() {
	case "telegram":
		bot, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.Chat, eng, render, client, logger)
		if err != nil {
			return nil, err
		}
		return bot, nil
	case "matrix":
		m := cfg.Matrix
		bot, err := matrix.New(m.Homeserver, m.UserID, m.AccessToken, m.Room, eng, render, client, logger)
		if err != nil {
			return nil, err
		}
		return bot, nil
	case "slack":
		return slack.New(cfg.Slack.WebhookURL, eng, render, client, logger), nil
	}
	return nil, fmt.Errorf("unknown front-end %q", cfg.FrontEnd())
}

func (s *Server) Close() error {
	return s.Store.Close()
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// Run starts every configured task and blocks until the context ends or a task fails.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.Config
	exprs := cfg.Expressions
	buildInfo.WithLabelValues(versioninfo.Short()).Set(1)

	g, ctx := errgroup.WithContext(ctx)
	spawn := func(name string, task func(ctx context.Context) error) {
		g.Go(func() error {
			tasksRunning.WithLabelValues(name).Inc()
			defer tasksRunning.WithLabelValues(name).Dec()
			if err := task(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	// each poller spends its own request budget
	budget := func(name string) *fetcher.Budget {
		return fetcher.NewBudget(name, exprs.ReqLimit, exprs.ReqInterval)
	}
	if exprs.Ban.Enabled || exprs.Sus.Enabled {
		f := fetcher.NewFetcher(s.Client, exprs.Limit, s.Logger)
		spawn("newest", func(ctx context.Context) error {
			return s.Engine.RunNewest(ctx, f, budget("newest"), exprs.Interval)
		})
		if exprs.CheckUpdatedUsers {
			spawn("updated", func(ctx context.Context) error {
				return s.Engine.RunUpdated(ctx, f, budget("updated"), exprs.Interval)
			})
		}
		if exprs.CheckExistingUsers {
			spawn("backfill", func(ctx context.Context) error {
				return s.Engine.RunBackfill(ctx, f, budget("backfill"))
			})
		}
	}
	if s.sweeper != nil {
		spawn("inactive", func(ctx context.Context) error {
			return s.sweeper.Run(ctx, cfg.Inactive.Interval)
		})
	}
	if s.purger != nil {
		spawn("lazy-purge", func(ctx context.Context) error {
			return s.purger.Run(ctx, cfg.LazyPurge.Interval)
		})
	}
	if s.FrontEnd != nil {
		spawn(cfg.FrontEnd(), s.FrontEnd.Run)
	}

	s.Logger.Info("moderation service running",
		"instance", cfg.Forgejo.InstanceURL,
		"front_end", cfg.FrontEnd(),
		"dry_run", cfg.DryRun,
		"safe_mode", exprs.SafeMode,
		"ban_action", exprs.BanAction,
	)
	return g.Wait()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// summary renders a human readable overview of the configuration.
func summary(cfg *config.Config) string {
	exprs := cfg.Expressions
	frontEnd := cfg.FrontEnd()
	if frontEnd == "" {
		frontEnd = "none"
	}
	backend := "pebble (" + cfg.Database.Path + ")"
	if cfg.Database.RedisURL != "" {
		backend = "redis"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "instance:          %s\n", cfg.Forgejo.InstanceURL)
	fmt.Fprintf(&b, "store:             %s\n", backend)
	fmt.Fprintf(&b, "front-end:         %s\n", frontEnd)
	fmt.Fprintf(&b, "dry run:           %s\n", onOff(cfg.DryRun))
	fmt.Fprintf(&b, "ban expressions:   %s, %d rules\n", onOff(exprs.Ban.Enabled), exprs.Ban.Len())
	fmt.Fprintf(&b, "sus expressions:   %s, %d rules\n", onOff(exprs.Sus.Enabled), exprs.Sus.Len())
	fmt.Fprintf(&b, "ban action:        %s\n", exprs.BanAction)
	fmt.Fprintf(&b, "safe mode:         %s\n", onOff(exprs.SafeMode))
	fmt.Fprintf(&b, "poll interval:     %s (%d accounts, %d requests per %s)\n", exprs.Interval, exprs.Limit, exprs.ReqLimit, exprs.ReqInterval)
	fmt.Fprintf(&b, "updated accounts:  %s\n", onOff(exprs.CheckUpdatedUsers))
	fmt.Fprintf(&b, "existing accounts: %s\n", onOff(exprs.CheckExistingUsers))
	fmt.Fprintf(&b, "inactive sweep:    %s\n", onOff(cfg.Inactive.Enabled))
	fmt.Fprintf(&b, "lazy purge:        %s\n", onOff(cfg.LazyPurge.Enabled))
	return b.String()
}
