// Package slack posts alerts to a Slack channel through an incoming webhook. It is notify
// only: Slack alerts carry no moderator actions.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/forgeguard/forgeguard/automod/engine"
	"github.com/forgeguard/forgeguard/bots"
)

type Notifier struct {
	WebhookURL string
	Client     *http.Client
	Engine     *engine.Engine
	Render     bots.Renderer
	Logger     *slog.Logger
}

var _ bots.FrontEnd = (*Notifier)(nil)

func New(webhookURL string, eng *engine.Engine, render bots.Renderer, client *http.Client, logger *slog.Logger) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{
		WebhookURL: webhookURL,
		Client:     client,
		Engine:     eng,
		Render:     render,
		Logger:     logger.With("component", "slack"),
	}
}

func (n *Notifier) Run(ctx context.Context) error {
	n.Logger.Info("slack notifier ready")
	return n.Engine.Alerts.Consume(ctx, func(ctx context.Context, a engine.Alert) {
		if err := n.SendAlert(ctx, &a); err != nil {
			n.Logger.Error("failed to send alert", "username", a.Account.Username, "kind", a.Kind, "err", err)
		}
	})
}

// SendAlert posts one alert.
func (n *Notifier) SendAlert(ctx context.Context, a *engine.Alert) error {
	n.Logger.Debug("sending slack notification", "username", a.Account.Username)
	return n.sendSlackMsg(ctx, body(n.Render, a))
}

func body(r bots.Renderer, a *engine.Alert) string {
	return fmt.Sprintf("⚠️ %s ⚠️\n```\n%s\n```", r.Header(a), r.Text(a))
}

type webhookBody struct {
	Text string `json:"text"`
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *Notifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(webhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}
