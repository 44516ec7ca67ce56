package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgeguard/forgeguard/automod/inactive"
	"github.com/forgeguard/forgeguard/automod/modstore"
	"github.com/forgeguard/forgeguard/automod/rules"
	"github.com/forgeguard/forgeguard/forge"
)

// requests a single account can cost the pipeline: up to three activity checks and a ban
const AccountLookahead = 4

// Settings are the moderation knobs the pipeline and callbacks depend on.
type Settings struct {
	// evaluate and alert, but never call the forge to ban
	DryRun bool
	// ban matches on active accounts become ban requests for a moderator
	SafeMode bool
	// send a notification for each automatic ban
	BanAlert  bool
	BanAction forge.BanAction
	// mark sus alerts for accounts that show activity
	ActiveNotice bool
	CheckTokens  bool
	CheckApps    bool
	// moderator bans go through the purge queue
	LazyPurge bool
}

// runtime for evaluating accounts against the ban and sus expressions, recording moderation
// state, and handing alerts to the chat front-end.
//
// Alerts is nil when no front-end is configured; in that case nothing is alerted and ban
// matches are always acted on directly.
type Engine struct {
	Logger   *slog.Logger
	Client   forge.Client
	Store    *modstore.Store
	Checker  *inactive.Checker
	Ban      *rules.Expr
	Sus      *rules.Expr
	Alerts   *Dispatcher
	Settings Settings
	Now      func() time.Time
}

// ProcessOptions narrow what a single pass may send.
type ProcessOptions struct {
	NoBanNotify bool
}

// options used for the one-off sweep over existing accounts; it still alerts on sus matches,
// which is how the backlog gets reviewed
var BackfillOptions = ProcessOptions{NoBanNotify: true}

func (eng *Engine) now() time.Time {
	if eng.Now != nil {
		return eng.Now()
	}
	return time.Now()
}

// ProcessAccount runs one account through the pipeline and returns how many forge requests it
// made, for the caller's budget.
func (eng *Engine) ProcessAccount(ctx context.Context, acct *forge.Account, opts ProcessOptions) int {
	reqs, _ := eng.processAccount(ctx, acct, opts)
	return reqs
}

// processAccount also reports whether the account was purged, and so dropped from listings.
func (eng *Engine) processAccount(ctx context.Context, acct *forge.Account, opts ProcessOptions) (reqs int, purged bool) {
	logger := eng.Logger.With("username", acct.Username, "id", acct.ID)
	// similar to an HTTP server, we want to recover any panics from rule execution
	defer func() {
		if r := recover(); r != nil {
			logger.Error("account processing exception", "err", r)
			accountsProcessed.WithLabelValues("error").Inc()
		}
	}()

	if acct.IsAdmin {
		accountsProcessed.WithLabelValues("admin").Inc()
		return 0, false
	}

	pending, err := eng.Store.IsPending(ctx, acct.Username)
	if err != nil {
		logger.Warn("failed to read moderation state, skipping account", "err", err)
		accountsProcessed.WithLabelValues("error").Inc()
		return 0, false
	}
	if pending {
		logger.Debug("account already handled")
		accountsProcessed.WithLabelValues("pending").Inc()
		return 0, false
	}

	if m := rules.Evaluate(eng.Ban, acct); m != nil {
		accountsProcessed.WithLabelValues("ban").Inc()
		return eng.handleBanMatch(ctx, logger, acct, m, opts)
	}

	if eng.Alerts != nil {
		if m := rules.Evaluate(eng.Sus, acct); m != nil {
			accountsProcessed.WithLabelValues("sus").Inc()
			return eng.handleSusMatch(ctx, logger, acct, m), false
		}
	}
	accountsProcessed.WithLabelValues("clean").Inc()
	return 0, false
}

func (eng *Engine) handleBanMatch(ctx context.Context, logger *slog.Logger, acct *forge.Account, m *rules.Match, opts ProcessOptions) (int, bool) {
	reqs := 0
	logger = logger.With("match", m.String())

	if eng.Settings.SafeMode && eng.Alerts != nil {
		inactive, n := eng.Checker.IsInactive(ctx, acct.Username, eng.Settings.CheckTokens, eng.Settings.CheckApps)
		reqs += n
		if !inactive {
			logger.Info("ban match on active account, asking moderators")
			if err := eng.Store.Alerted.Add(ctx, acct.Username); err != nil {
				logger.Warn("failed to record alerted account", "err", err)
			}
			eng.sendAlert(ctx, logger, Alert{Kind: AlertBanRequest, Account: *acct, Match: *m, Active: true})
			return reqs, false
		}
	}

	notify := eng.Settings.BanAlert && eng.Alerts != nil && !opts.NoBanNotify
	if eng.Settings.DryRun {
		logger.Info("ban match (dry run, not banned)", "action", eng.Settings.BanAction)
		if notify {
			eng.sendAlert(ctx, logger, Alert{Kind: AlertBanNotify, Account: *acct, Match: *m})
		}
		return reqs, false
	}

	reqs++
	if err := eng.Client.BanAccount(ctx, acct.Username, eng.Settings.BanAction); err != nil {
		logger.Error("failed to ban account", "action", eng.Settings.BanAction, "err", err)
		banCount.WithLabelValues("auto", "error").Inc()
		return reqs, false
	}
	logger.Info("banned account", "action", eng.Settings.BanAction)
	banCount.WithLabelValues("auto", string(eng.Settings.BanAction)).Inc()
	if notify {
		eng.sendAlert(ctx, logger, Alert{Kind: AlertBanNotify, Account: *acct, Match: *m})
	}
	if err := eng.Store.Alerted.Remove(ctx, acct.Username); err != nil {
		logger.Warn("failed to clear alerted account", "err", err)
	}
	return reqs, eng.Settings.BanAction.IsPurge()
}

func (eng *Engine) handleSusMatch(ctx context.Context, logger *slog.Logger, acct *forge.Account, m *rules.Match) int {
	reqs := 0
	logger = logger.With("match", m.String())
	logger.Info("suspicious account")

	if err := eng.Store.Alerted.Add(ctx, acct.Username); err != nil {
		logger.Warn("failed to record alerted account", "err", err)
	}
	active := false
	if eng.Settings.ActiveNotice {
		inactive, n := eng.Checker.IsInactive(ctx, acct.Username, eng.Settings.CheckTokens, eng.Settings.CheckApps)
		reqs += n
		active = !inactive
	}
	eng.sendAlert(ctx, logger, Alert{Kind: AlertSus, Account: *acct, Match: *m, Active: active})
	return reqs
}

func (eng *Engine) sendAlert(ctx context.Context, logger *slog.Logger, a Alert) {
	if err := eng.Alerts.Send(ctx, a); err != nil {
		logger.Warn("alert not delivered", "kind", a.Kind, "err", err)
		return
	}
	alertsSent.WithLabelValues(string(a.Kind)).Inc()
}
