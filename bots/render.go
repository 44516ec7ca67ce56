// Package bots holds what the chat front-ends share: plain text rendering of moderation alerts
// and moderator outcomes, and the FrontEnd interface the daemon runs.
package bots

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeguard/forgeguard/automod/engine"
	"github.com/forgeguard/forgeguard/forge"
)

// FrontEnd delivers alerts from the engine's dispatcher and, when interactive, feeds moderator
// decisions back through engine.HandleAction. Run blocks until the context ends.
type FrontEnd interface {
	Run(ctx context.Context) error
}

// Renderer turns alerts into English message text.
type Renderer struct {
	BanAction forge.BanAction
	HideEmail bool
	DryRun    bool
}

// ActionWord is the verb for the configured ban action.
func (r Renderer) ActionWord() string {
	if r.BanAction.IsPurge() {
		return "purge"
	}
	return "suspend"
}

func (r Renderer) pastTense() string {
	if r.BanAction.IsPurge() {
		return "purged"
	}
	return "suspended"
}

// NotFoundIfEmpty replaces empty profile fields.
func NotFoundIfEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "not found"
	}
	return s
}

// Header is the first line of an alert.
func (r Renderer) Header(a *engine.Alert) string {
	switch a.Kind {
	case engine.AlertSus:
		return "Suspicious account detected"
	case engine.AlertBanRequest:
		return fmt.Sprintf("Ban request: this account matched the ban expressions but looks active. Should it be %s?", r.pastTense())
	}
	if r.DryRun {
		return fmt.Sprintf("Account matched the ban expressions (dry run, not %s)", r.pastTense())
	}
	return fmt.Sprintf("Account %s", r.pastTense())
}

// Text renders the full alert body.
func (r Renderer) Text(a *engine.Alert) string {
	acct := &a.Account
	email := acct.Email
	if r.HideEmail {
		email = "hidden"
	}
	reason := a.Match.Reason()
	if reason == "" {
		reason = "not specified"
	}

	var b strings.Builder
	b.WriteString(r.Header(a))
	b.WriteString("\n")
	if a.Kind == engine.AlertSus && a.Active {
		b.WriteString("Notice: this account shows recent activity.\n")
	}
	fmt.Fprintf(&b, "\nID: %d\n", acct.ID)
	fmt.Fprintf(&b, "Username: %s\n", acct.Username)
	fmt.Fprintf(&b, "Full name: %s\n", NotFoundIfEmpty(acct.FullName))
	fmt.Fprintf(&b, "Email: %s\n", NotFoundIfEmpty(email))
	fmt.Fprintf(&b, "Biography: %s\n", NotFoundIfEmpty(acct.Biography))
	fmt.Fprintf(&b, "Website: %s\n", NotFoundIfEmpty(acct.Website))
	fmt.Fprintf(&b, "Location: %s\n", NotFoundIfEmpty(acct.Location))
	fmt.Fprintf(&b, "Profile: %s\n", NotFoundIfEmpty(acct.HTMLURL))
	fmt.Fprintf(&b, "Matched %s\n", a.Match.String())
	fmt.Fprintf(&b, "Reason: %s", reason)
	return b.String()
}

// BanButton is the label for the ban choice.
func (r Renderer) BanButton() string {
	return "Ban (" + r.ActionWord() + ")"
}

// Outcome renders the status line put above an alert once a moderator acted on it.
func (r Renderer) Outcome(res engine.Result, moderator string) string {
	var s string
	switch res.Outcome {
	case engine.OutcomeBanned:
		s = "Banned"
		if r.DryRun {
			s += " (dry run)"
		}
	case engine.OutcomeQueued:
		s = "Queued for purge, it can be undone until the purge runs"
	case engine.OutcomeBanFailed:
		s = "Ban failed, try again later"
	case engine.OutcomeIgnored:
		s = "Ignored"
	case engine.OutcomeUndone:
		s = "Purge undone"
	default:
		s = res.Outcome.String()
		s = strings.ToUpper(s[:1]) + s[1:]
	}
	if moderator != "" {
		s += " by " + moderator
	}
	return s
}
