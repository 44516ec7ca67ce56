package telegram

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/forgeguard/forgeguard/automod/engine"
	"github.com/forgeguard/forgeguard/automod/rules"
	"github.com/forgeguard/forgeguard/bots"
	"github.com/forgeguard/forgeguard/forge"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChat = int64(-1001)

type fakeAPI struct {
	mu       sync.Mutex
	nextID   int
	failPics bool
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := c.(tgbotapi.PhotoConfig); ok && f.failPics {
		return tgbotapi.Message{}, errors.New("bad avatar")
	}
	f.nextID++
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: f.nextID, Chat: &tgbotapi.Chat{ID: testChat}}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) StopReceivingUpdates() {}

func testBot(client *forge.MockClient) (*Bot, *fakeAPI) {
	eng := engine.EngineTestFixture(client)
	api := &fakeAPI{}
	return &Bot{
		API:    api,
		Engine: eng,
		Chat:   testChat,
		Render: bots.Renderer{BanAction: forge.BanPurge},
		Logger: slog.Default(),
	}, api
}

func susAlert(acct forge.Account) engine.Alert {
	return engine.Alert{
		Kind:    engine.AlertSus,
		Account: acct,
		Match:   rules.Match{Field: rules.FieldBiography, Rule: rules.MustRule("gambling", `casino`)},
	}
}

func callback(messageID int, data string, photo bool) *tgbotapi.CallbackQuery {
	msg := &tgbotapi.Message{MessageID: messageID, Chat: &tgbotapi.Chat{ID: testChat}, Caption: "alert"}
	if photo {
		msg.Photo = []tgbotapi.PhotoSize{{FileID: "x"}}
	}
	return &tgbotapi.CallbackQuery{
		ID:      "q1",
		From:    &tgbotapi.User{ID: 5, UserName: "mod"},
		Message: msg,
		Data:    data,
	}
}

func TestDeliverRegistersInteractiveAlerts(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	acct := forge.FakeAccount(3, "carol")
	b, api := testBot(forge.NewMockClient(acct))

	b.deliver(ctx, susAlert(acct))
	require.Len(t, api.sent, 1)
	photo, ok := api.sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Equal(testChat, photo.ChatID)
	assert.Contains(photo.Caption, "Username: carol")
	assert.NotNil(photo.ReplyMarkup)

	username, found, err := b.Engine.Store.Events.Get(ctx, EventID(testChat, 1))
	require.NoError(t, err)
	assert.True(found)
	assert.Equal("carol", username)

	// notifications have no buttons and no event
	notify := susAlert(acct)
	notify.Kind = engine.AlertBanNotify
	b.deliver(ctx, notify)
	require.Len(t, api.sent, 2)
	assert.Nil(api.sent[1].(tgbotapi.PhotoConfig).ReplyMarkup)
	_, found, err = b.Engine.Store.Events.Get(ctx, EventID(testChat, 2))
	require.NoError(t, err)
	assert.False(found)
}

func TestDeliverFallsBackToText(t *testing.T) {
	assert := assert.New(t)
	acct := forge.FakeAccount(3, "carol")
	b, api := testBot(forge.NewMockClient(acct))
	api.failPics = true

	b.deliver(context.Background(), susAlert(acct))
	require.Len(t, api.sent, 1)
	m, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Contains(m.Text, "Username: carol")
}

func TestDeliverUnregisteredAlertIsCleared(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	acct := forge.FakeAccount(3, "carol")
	b, api := testBot(forge.NewMockClient(acct))
	require.NoError(t, b.Engine.Store.Alerted.Add(ctx, "carol"))
	b.Engine.Store.FailEventWrites(errors.New("store unavailable"))

	b.deliver(ctx, susAlert(acct))
	require.Len(t, api.sent, 1)
	alerted, err := b.Engine.Store.Alerted.Has(ctx, "carol")
	require.NoError(t, err)
	assert.False(alerted)
}

func TestCallbackBan(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	acct := forge.FakeAccount(3, "carol")
	client := forge.NewMockClient(acct)
	b, api := testBot(client)

	b.deliver(ctx, susAlert(acct))
	b.handleCallback(ctx, callback(1, dataBan, true))
	assert.True(client.IsBanned("carol"))

	// answer, then caption edit without buttons
	require.Len(t, api.requests, 2)
	answer := api.requests[0].(tgbotapi.CallbackConfig)
	assert.Equal("Banned by @mod", answer.Text)
	edit := api.requests[1].(tgbotapi.EditMessageCaptionConfig)
	assert.Equal("Banned by @mod\n\nalert", edit.Caption)
	assert.Nil(edit.ReplyMarkup)

	// the event is gone, a second press is a no-op
	b.handleCallback(ctx, callback(1, dataBan, true))
	assert.Equal(1, client.BanCount())
	assert.Equal("Unknown event by @mod", api.requests[2].(tgbotapi.CallbackConfig).Text)
}

func TestCallbackLazyPurgeUndo(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	acct := forge.FakeAccount(3, "carol")
	client := forge.NewMockClient(acct)
	b, api := testBot(client)
	b.Engine.Settings.LazyPurge = true

	b.deliver(ctx, susAlert(acct))
	b.handleCallback(ctx, callback(1, dataBan, false))
	assert.False(client.IsBanned("carol"))
	queued, err := b.Engine.Store.PurgeQueue.Has(ctx, "carol")
	require.NoError(t, err)
	assert.True(queued)

	edit := api.requests[1].(tgbotapi.EditMessageTextConfig)
	require.NotNil(t, edit.ReplyMarkup)
	assert.Equal(dataUndo, *edit.ReplyMarkup.InlineKeyboard[0][0].CallbackData)

	b.handleCallback(ctx, callback(1, dataUndo, false))
	queued, err = b.Engine.Store.PurgeQueue.Has(ctx, "carol")
	require.NoError(t, err)
	assert.False(queued)
	edit = api.requests[3].(tgbotapi.EditMessageTextConfig)
	assert.Nil(edit.ReplyMarkup)
}

func TestCallbackIgnoreAndForeignChat(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	acct := forge.FakeAccount(3, "carol")
	b, api := testBot(forge.NewMockClient(acct))

	b.deliver(ctx, susAlert(acct))

	q := callback(1, dataIgnore, true)
	q.Message.Chat.ID = 99
	b.handleCallback(ctx, q)
	require.Len(t, api.requests, 1)
	ignored, err := b.Engine.Store.Ignored.Has(ctx, "carol")
	require.NoError(t, err)
	assert.False(ignored)

	b.handleCallback(ctx, callback(1, dataIgnore, true))
	ignored, err = b.Engine.Store.Ignored.Has(ctx, "carol")
	require.NoError(t, err)
	assert.True(ignored)
}

func TestModeratorName(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("@mod", moderatorName(&tgbotapi.User{UserName: "mod", FirstName: "M"}))
	assert.Equal("M", moderatorName(&tgbotapi.User{FirstName: "M"}))
	assert.Equal("7", moderatorName(&tgbotapi.User{ID: 7}))
	assert.Equal("unknown", moderatorName(nil))
	assert.Equal("tg:-1001:12", EventID(-1001, 12))
}
