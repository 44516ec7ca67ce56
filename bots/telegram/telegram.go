// Package telegram is the Telegram chat front-end: alerts are posted to one chat with inline
// ban / ignore buttons, and button presses become moderator actions.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/forgeguard/forgeguard/automod/engine"
	"github.com/forgeguard/forgeguard/bots"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"
)

// callback data carried by the inline buttons
const (
	dataBan    = "b"
	dataIgnore = "i"
	dataUndo   = "u"
)

var callbackActions = map[string]engine.Action{
	dataBan:    engine.ActionBan,
	dataIgnore: engine.ActionIgnore,
	dataUndo:   engine.ActionUndo,
}

// photo captions are capped by Telegram; longer alerts go out as plain messages
const maxCaption = 1024

// the subset of *tgbotapi.BotAPI used here
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	API    botAPI
	Engine *engine.Engine
	// moderation chat; updates from other chats are ignored
	Chat   int64
	Render bots.Renderer
	Logger *slog.Logger
}

var _ bots.FrontEnd = (*Bot)(nil)

func New(token string, chat int64, eng *engine.Engine, render bots.Renderer, client *http.Client, logger *slog.Logger) (*Bot, error) {
	if client == nil {
		client = http.DefaultClient
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	logger = logger.With("component", "telegram")
	logger.Info("telegram bot ready", "bot", api.Self.UserName, "chat", chat)
	return &Bot{
		API:    api,
		Engine: eng,
		Chat:   chat,
		Render: render,
		Logger: logger,
	}, nil
}

// EventID is the moderation event key of a message in a chat.
func EventID(chat int64, messageID int) string {
	return "tg:" + strconv.FormatInt(chat, 10) + ":" + strconv.Itoa(messageID)
}

func (b *Bot) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Engine.Alerts.Consume(ctx, b.deliver)
	})
	g.Go(func() error {
		return b.listen(ctx)
	})
	return g.Wait()
}

func (b *Bot) listen(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.API.GetUpdatesChan(u)
	defer b.API.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, &upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd *tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.Chat != nil && upd.Message.Chat.ID == b.Chat:
		if upd.Message.IsCommand() && upd.Message.Command() == "ping" {
			reply := tgbotapi.NewMessage(b.Chat, "Pong!")
			reply.ReplyToMessageID = upd.Message.MessageID
			if _, err := b.API.Send(reply); err != nil {
				b.Logger.Warn("failed to answer ping", "err", err)
			}
		}
	}
}

func (b *Bot) banIgnoreKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(b.Render.BanButton(), dataBan),
		tgbotapi.NewInlineKeyboardButtonData("Ignore", dataIgnore),
	))
}

func undoKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Undo", dataUndo),
	))
}

// deliver posts one alert, and registers interactive ones so button presses resolve to the
// account.
func (b *Bot) deliver(ctx context.Context, a engine.Alert) {
	logger := b.Logger.With("username", a.Account.Username, "kind", a.Kind)
	var markup *tgbotapi.InlineKeyboardMarkup
	if a.Interactive() {
		k := b.banIgnoreKeyboard()
		markup = &k
	}

	msg, err := b.post(logger, a.Account.AvatarURL, b.Render.Text(&a), markup)
	if err != nil {
		logger.Error("failed to send alert", "err", err)
		return
	}
	if !a.Interactive() {
		return
	}
	if err := b.Engine.RegisterEvent(ctx, EventID(b.Chat, msg.MessageID), a.Account.Username); err != nil {
		logger.Error("failed to register alert event", "err", err)
	}
}

// post sends the text as the caption of the avatar, falling back to a text message.
func (b *Bot) post(logger *slog.Logger, avatar, text string, markup *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	if avatar != "" && len(text) <= maxCaption {
		photo := tgbotapi.NewPhoto(b.Chat, tgbotapi.FileURL(avatar))
		photo.Caption = text
		if markup != nil {
			photo.ReplyMarkup = *markup
		}
		msg, err := b.API.Send(photo)
		if err == nil {
			return msg, nil
		}
		logger.Warn("failed to send alert with avatar, sending text", "err", err)
	}
	m := tgbotapi.NewMessage(b.Chat, text)
	m.DisableWebPagePreview = true
	if markup != nil {
		m.ReplyMarkup = *markup
	}
	return b.API.Send(m)
}

func moderatorName(u *tgbotapi.User) string {
	switch {
	case u == nil:
		return "unknown"
	case u.UserName != "":
		return "@" + u.UserName
	case u.FirstName != "":
		return u.FirstName
	}
	return strconv.FormatInt(u.ID, 10)
}

func (b *Bot) answer(q *tgbotapi.CallbackQuery, text string) {
	if _, err := b.API.Request(tgbotapi.NewCallback(q.ID, text)); err != nil {
		b.Logger.Warn("failed to answer callback", "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	msg := q.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != b.Chat {
		b.answer(q, "Not a moderation message")
		return
	}
	action, ok := callbackActions[q.Data]
	if !ok {
		b.Logger.Warn("unknown callback data", "data", q.Data)
		b.answer(q, "Unknown action")
		return
	}

	moderator := moderatorName(q.From)
	res, err := b.Engine.HandleAction(ctx, action, EventID(b.Chat, msg.MessageID), moderator)
	if err != nil {
		b.answer(q, "Something went wrong, try again")
		return
	}
	status := b.Render.Outcome(res, moderator)
	b.answer(q, status)
	if !res.Outcome.Done() && res.Outcome != engine.OutcomeQueued {
		return
	}

	var markup *tgbotapi.InlineKeyboardMarkup
	if res.Outcome == engine.OutcomeQueued {
		k := undoKeyboard()
		markup = &k
	}
	b.edit(msg, status, markup)
}

// edit puts the status line above the message text and replaces its buttons; a nil markup
// removes them.
func (b *Bot) edit(msg *tgbotapi.Message, status string, markup *tgbotapi.InlineKeyboardMarkup) {
	var c tgbotapi.Chattable
	if len(msg.Photo) > 0 {
		e := tgbotapi.NewEditMessageCaption(b.Chat, msg.MessageID, status+"\n\n"+msg.Caption)
		e.ReplyMarkup = markup
		c = e
	} else {
		e := tgbotapi.NewEditMessageText(b.Chat, msg.MessageID, status+"\n\n"+msg.Text)
		e.DisableWebPagePreview = true
		e.ReplyMarkup = markup
		c = e
	}
	if _, err := b.API.Request(c); err != nil {
		b.Logger.Warn("failed to edit alert message", "message", msg.MessageID, "err", err)
	}
}
