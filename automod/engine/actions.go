package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// Action is a moderator decision on an alert.
type Action string

const (
	ActionBan    Action = "ban"
	ActionIgnore Action = "ignore"
	ActionUndo   Action = "undo"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionBan, ActionIgnore, ActionUndo:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown moderation action %q", s)
}

type Outcome int

const (
	OutcomeError Outcome = iota
	// the event id does not point at any account (already handled, or not ours)
	OutcomeUnknownEvent
	// ban on an ignored account
	OutcomeAlreadyIgnored
	OutcomeAlreadyQueued
	// queued for a lazy purge; can still be undone
	OutcomeQueued
	OutcomeBanned
	OutcomeBanFailed
	OutcomeIgnored
	OutcomeUndone
	OutcomeNotQueued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnknownEvent:
		return "unknown event"
	case OutcomeAlreadyIgnored:
		return "already ignored"
	case OutcomeAlreadyQueued:
		return "already queued for purge"
	case OutcomeQueued:
		return "queued for purge"
	case OutcomeBanned:
		return "banned"
	case OutcomeBanFailed:
		return "ban failed"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeUndone:
		return "purge undone"
	case OutcomeNotQueued:
		return "not queued for purge"
	}
	return "error"
}

// Done reports whether the outcome closes the alert, so the front-end can drop its buttons.
func (o Outcome) Done() bool {
	switch o {
	case OutcomeBanned, OutcomeIgnored, OutcomeUndone, OutcomeAlreadyIgnored:
		return true
	}
	return false
}

type Result struct {
	Outcome  Outcome
	Username string
}

// RegisterEvent records that a chat message (or other anchor) is an alert about username, so
// later moderator actions on it can be resolved. If that fails the account is no longer
// considered alerted, since nothing could resolve it, and the next poll alerts again.
func (eng *Engine) RegisterEvent(ctx context.Context, eventID, username string) error {
	err := eng.Store.Events.Add(ctx, eventID, username)
	if err == nil {
		return nil
	}
	if rerr := eng.Store.Alerted.Remove(ctx, username); rerr != nil {
		eng.Logger.Warn("failed to clear alerted account", "username", username, "err", rerr)
	}
	return fmt.Errorf("registering alert event: %w", err)
}

// HandleAction applies a moderator decision taken on the alert identified by eventID.
//
// Each step is its own store write; a failure part way through is logged and leaves the rest
// of the state as it was.
func (eng *Engine) HandleAction(ctx context.Context, action Action, eventID, moderator string) (Result, error) {
	username, found, err := eng.Store.Events.Get(ctx, eventID)
	if err != nil {
		return Result{Outcome: OutcomeError}, fmt.Errorf("resolving event: %w", err)
	}
	if !found {
		eng.Logger.Warn("moderator action on unknown event", "event", eventID, "moderator", moderator, "action", action)
		actionCount.WithLabelValues(string(action), "unknown").Inc()
		return Result{Outcome: OutcomeUnknownEvent}, nil
	}
	logger := eng.Logger.With("username", username, "moderator", moderator, "action", action)

	var out Outcome
	switch action {
	case ActionBan:
		out, err = eng.moderatorBan(ctx, logger, username)
	case ActionIgnore:
		out, err = eng.moderatorIgnore(ctx, logger, username)
	case ActionUndo:
		out, err = eng.moderatorUndo(ctx, logger, username)
	default:
		return Result{Outcome: OutcomeError, Username: username}, fmt.Errorf("unknown moderation action %q", action)
	}
	if err != nil {
		logger.Error("moderator action failed", "err", err)
	} else {
		logger.Info("moderator action", "outcome", out.String())
	}
	actionCount.WithLabelValues(string(action), out.String()).Inc()
	return Result{Outcome: out, Username: username}, err
}

func (eng *Engine) moderatorBan(ctx context.Context, logger *slog.Logger, username string) (Outcome, error) {
	ignored, err := eng.Store.Ignored.Has(ctx, username)
	if err != nil {
		return OutcomeError, err
	}
	if ignored {
		return OutcomeAlreadyIgnored, nil
	}
	queued, err := eng.Store.PurgeQueue.Has(ctx, username)
	if err != nil {
		return OutcomeError, err
	}
	if queued {
		return OutcomeAlreadyQueued, nil
	}

	if eng.Settings.LazyPurge {
		if err := eng.Store.PurgeQueue.Add(ctx, username, eng.now()); err != nil {
			return OutcomeError, err
		}
		if err := eng.Store.Alerted.Remove(ctx, username); err != nil {
			logger.Warn("failed to clear alerted account", "err", err)
		}
		return OutcomeQueued, nil
	}

	if eng.Settings.DryRun {
		logger.Info("moderator ban (dry run, not banned)")
	} else if err := eng.Client.BanAccount(ctx, username, eng.Settings.BanAction); err != nil {
		logger.Error("failed to ban account", "err", err)
		banCount.WithLabelValues("moderator", "error").Inc()
		return OutcomeBanFailed, nil
	} else {
		banCount.WithLabelValues("moderator", string(eng.Settings.BanAction)).Inc()
	}
	eng.clearAccount(ctx, logger, username, false)
	return OutcomeBanned, nil
}

func (eng *Engine) moderatorIgnore(ctx context.Context, logger *slog.Logger, username string) (Outcome, error) {
	if err := eng.Store.Ignored.Add(ctx, username); err != nil {
		return OutcomeError, err
	}
	eng.clearAccount(ctx, logger, username, true)
	return OutcomeIgnored, nil
}

func (eng *Engine) moderatorUndo(ctx context.Context, logger *slog.Logger, username string) (Outcome, error) {
	if !eng.Settings.LazyPurge {
		return OutcomeNotQueued, nil
	}
	queued, err := eng.Store.PurgeQueue.Has(ctx, username)
	if err != nil {
		return OutcomeError, err
	}
	if !queued {
		return OutcomeNotQueued, nil
	}
	if err := eng.Store.PurgeQueue.Remove(ctx, username); err != nil {
		return OutcomeError, err
	}
	if _, err := eng.Store.Events.RemoveAllFor(ctx, username); err != nil {
		logger.Warn("failed to remove events", "err", err)
	}
	return OutcomeUndone, nil
}

// clearAccount drops the alerted entry and every event for username, and optionally its purge
// queue entry. Best effort.
func (eng *Engine) clearAccount(ctx context.Context, logger *slog.Logger, username string, dequeue bool) {
	if err := eng.Store.Alerted.Remove(ctx, username); err != nil {
		logger.Warn("failed to clear alerted account", "err", err)
	}
	if dequeue {
		if err := eng.Store.PurgeQueue.Remove(ctx, username); err != nil {
			logger.Warn("failed to remove purge queue entry", "err", err)
		}
	}
	if _, err := eng.Store.Events.RemoveAllFor(ctx, username); err != nil {
		logger.Warn("failed to remove events", "err", err)
	}
}
