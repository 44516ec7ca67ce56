// Package matrix is the Matrix chat front-end. Alerts are posted to one room; moderators
// answer with reactions on the alert: ✅ bans, ❌ ignores and ↩️ undoes a queued purge.
package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/forgeguard/forgeguard/automod/engine"
	"github.com/forgeguard/forgeguard/bots"

	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	ReactBan    = "✅"
	ReactIgnore = "❌"
	ReactUndo   = "↩️"

	variationSelector = "\ufe0f"
)

var reactionActions = map[string]engine.Action{
	ReactBan:    engine.ActionBan,
	ReactIgnore: engine.ActionIgnore,
	// clients disagree on the variation selector
	strings.TrimSuffix(ReactUndo, variationSelector): engine.ActionUndo,
}

// the subset of *mautrix.Client used to talk to the room
type roomAPI interface {
	SendMessageEvent(roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	SendReaction(roomID id.RoomID, eventID id.EventID, reaction string) (*mautrix.RespSendEvent, error)
}

type Bot struct {
	API    roomAPI
	Engine *engine.Engine
	Room   id.RoomID
	UserID id.UserID
	Render bots.Renderer
	Logger *slog.Logger

	client *mautrix.Client
}

var _ bots.FrontEnd = (*Bot)(nil)

func New(homeserver, userID, accessToken, room string, eng *engine.Engine, render bots.Renderer, httpClient *http.Client, logger *slog.Logger) (*Bot, error) {
	cli, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if httpClient != nil {
		cli.Client = httpClient
	}
	return &Bot{
		API:    cli,
		Engine: eng,
		Room:   id.RoomID(room),
		UserID: id.UserID(userID),
		Render: render,
		Logger: logger.With("component", "matrix"),
		client: cli,
	}, nil
}

func (b *Bot) Run(ctx context.Context) error {
	if _, err := b.client.JoinRoomByID(b.Room); err != nil {
		return fmt.Errorf("joining moderation room %s: %w", b.Room, err)
	}
	b.Logger.Info("matrix bot ready", "user", b.UserID, "room", b.Room)

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected matrix syncer %T", b.client.Syncer)
	}
	// reactions from before startup were already handled, or belong to stale alerts
	syncer.OnSync(b.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventReaction, func(source mautrix.EventSource, evt *event.Event) {
		b.handleReaction(ctx, evt)
	})
	syncer.OnEventType(event.EventMessage, func(source mautrix.EventSource, evt *event.Event) {
		b.handleMessage(evt)
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Engine.Alerts.Consume(ctx, b.deliver)
	})
	g.Go(func() error {
		return b.client.SyncWithContext(ctx)
	})
	return g.Wait()
}

func (b *Bot) deliver(ctx context.Context, a engine.Alert) {
	logger := b.Logger.With("username", a.Account.Username, "kind", a.Kind)
	resp, err := b.API.SendMessageEvent(b.Room, event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    b.Render.Text(&a),
	})
	if err != nil {
		logger.Error("failed to send alert", "err", err)
		return
	}
	if !a.Interactive() {
		return
	}
	if err := b.Engine.RegisterEvent(ctx, string(resp.EventID), a.Account.Username); err != nil {
		logger.Error("failed to register alert event", "err", err)
		return
	}
	b.react(resp.EventID, ReactBan)
	b.react(resp.EventID, ReactIgnore)
}

func (b *Bot) react(to id.EventID, key string) {
	if _, err := b.API.SendReaction(b.Room, to, key); err != nil {
		b.Logger.Warn("failed to send reaction", "event", to, "err", err)
	}
}

// reply posts a notice in reply to an alert
func (b *Bot) reply(to id.EventID, text string) {
	_, err := b.API.SendMessageEvent(b.Room, event.EventMessage, &event.MessageEventContent{
		MsgType:   event.MsgNotice,
		Body:      text,
		RelatesTo: &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: to}},
	})
	if err != nil {
		b.Logger.Warn("failed to send reply", "event", to, "err", err)
	}
}

func (b *Bot) handleReaction(ctx context.Context, evt *event.Event) {
	if evt.RoomID != b.Room || evt.Sender == b.UserID {
		return
	}
	rel := evt.Content.AsReaction().RelatesTo
	action, ok := reactionActions[strings.TrimSuffix(rel.Key, variationSelector)]
	if !ok || rel.EventID == "" {
		return
	}

	moderator := string(evt.Sender)
	res, err := b.Engine.HandleAction(ctx, action, string(rel.EventID), moderator)
	if err != nil {
		b.reply(rel.EventID, "Something went wrong, try again")
		return
	}
	if res.Outcome == engine.OutcomeUnknownEvent {
		return
	}
	b.reply(rel.EventID, b.Render.Outcome(res, moderator)+": "+res.Username)
	if res.Outcome == engine.OutcomeQueued {
		b.react(rel.EventID, ReactUndo)
	}
}

func (b *Bot) handleMessage(evt *event.Event) {
	if evt.RoomID != b.Room || evt.Sender == b.UserID {
		return
	}
	if strings.TrimSpace(evt.Content.AsMessage().Body) == "!ping" {
		b.reply(evt.ID, "Pong!")
	}
}
