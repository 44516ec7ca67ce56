package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/forgeguard/forgeguard/automod/engine"
	"github.com/forgeguard/forgeguard/automod/rules"
	"github.com/forgeguard/forgeguard/bots"
	"github.com/forgeguard/forgeguard/forge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

const (
	testRoom  = id.RoomID("!mods:matrix.example")
	testBotID = id.UserID("@guard:matrix.example")
	testMod   = id.UserID("@mod:matrix.example")
)

type reaction struct {
	to  id.EventID
	key string
}

type fakeRoom struct {
	mu        sync.Mutex
	n         int
	messages  []*event.MessageEventContent
	reactions []reaction
}

func (f *fakeRoom) SendMessageEvent(roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	f.messages = append(f.messages, contentJSON.(*event.MessageEventContent))
	return &mautrix.RespSendEvent{EventID: id.EventID(fmt.Sprintf("$ev%d", f.n))}, nil
}

func (f *fakeRoom) SendReaction(roomID id.RoomID, eventID id.EventID, key string) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, reaction{eventID, key})
	return &mautrix.RespSendEvent{}, nil
}

func testBot(client *forge.MockClient) (*Bot, *fakeRoom) {
	room := &fakeRoom{}
	return &Bot{
		API:    room,
		Engine: engine.EngineTestFixture(client),
		Room:   testRoom,
		UserID: testBotID,
		Render: bots.Renderer{BanAction: forge.BanPurge},
		Logger: slog.Default(),
	}, room
}

func reactionEvent(sender id.UserID, to id.EventID, key string) *event.Event {
	return &event.Event{
		Sender: sender,
		Type:   event.EventReaction,
		RoomID: testRoom,
		Content: event.Content{Parsed: &event.ReactionEventContent{
			RelatesTo: event.RelatesTo{Type: event.RelAnnotation, EventID: to, Key: key},
		}},
	}
}

func banRequest(acct forge.Account) engine.Alert {
	return engine.Alert{
		Kind:    engine.AlertBanRequest,
		Account: acct,
		Match:   rules.Match{Field: rules.FieldUsername, Rule: rules.MustRule("", `^spam_`)},
		Active:  true,
	}
}

func TestDeliver(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	acct := forge.FakeAccount(9, "spam_9")
	b, room := testBot(forge.NewMockClient(acct))

	b.deliver(ctx, banRequest(acct))
	require.Len(t, room.messages, 1)
	assert.Contains(room.messages[0].Body, "Ban request")
	assert.Equal([]reaction{{"$ev1", ReactBan}, {"$ev1", ReactIgnore}}, room.reactions)

	username, found, err := b.Engine.Store.Events.Get(ctx, "$ev1")
	require.NoError(t, err)
	assert.True(found)
	assert.Equal("spam_9", username)
}

func TestDeliverUnregisteredAlertIsCleared(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	acct := forge.FakeAccount(9, "spam_9")
	b, room := testBot(forge.NewMockClient(acct))
	require.NoError(t, b.Engine.Store.Alerted.Add(ctx, "spam_9"))
	b.Engine.Store.FailEventWrites(errors.New("store unavailable"))

	b.deliver(ctx, banRequest(acct))
	require.Len(t, room.messages, 1)
	// no reactions on an alert nobody can act on
	assert.Empty(room.reactions)
	alerted, err := b.Engine.Store.Alerted.Has(ctx, "spam_9")
	require.NoError(t, err)
	assert.False(alerted)
}

func TestReactionBan(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	acct := forge.FakeAccount(9, "spam_9")
	client := forge.NewMockClient(acct)
	b, room := testBot(client)

	b.deliver(ctx, banRequest(acct))

	// the bot's own hint reactions are not decisions
	b.handleReaction(ctx, reactionEvent(testBotID, "$ev1", ReactBan))
	assert.False(client.IsBanned("spam_9"))

	b.handleReaction(ctx, reactionEvent(testMod, "$ev1", ReactBan))
	assert.True(client.IsBanned("spam_9"))
	require.Len(t, room.messages, 2)
	assert.Equal("Banned by @mod:matrix.example: spam_9", room.messages[1].Body)
	assert.Equal(id.EventID("$ev1"), room.messages[1].RelatesTo.InReplyTo.EventID)

	// handled alerts no longer resolve
	b.handleReaction(ctx, reactionEvent(testMod, "$ev1", ReactIgnore))
	assert.Len(room.messages, 2)
}

func TestReactionLazyPurgeUndo(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	acct := forge.FakeAccount(9, "spam_9")
	client := forge.NewMockClient(acct)
	b, room := testBot(client)
	b.Engine.Settings.LazyPurge = true

	b.deliver(ctx, banRequest(acct))
	b.handleReaction(ctx, reactionEvent(testMod, "$ev1", ReactBan))
	assert.False(client.IsBanned("spam_9"))
	assert.Contains(room.reactions, reaction{"$ev1", ReactUndo})

	// undo without the variation selector
	b.handleReaction(ctx, reactionEvent(testMod, "$ev1", "↩"))
	queued, err := b.Engine.Store.PurgeQueue.Has(ctx, "spam_9")
	require.NoError(t, err)
	assert.False(queued)
	assert.Equal("Purge undone by @mod:matrix.example: spam_9", room.messages[len(room.messages)-1].Body)
}

func TestReactionIgnore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	acct := forge.FakeAccount(9, "spam_9")
	b, _ := testBot(forge.NewMockClient(acct))

	b.deliver(ctx, banRequest(acct))

	other := reactionEvent(testMod, "$ev1", ReactIgnore)
	other.RoomID = "!elsewhere:matrix.example"
	b.handleReaction(ctx, other)
	ignored, err := b.Engine.Store.Ignored.Has(ctx, "spam_9")
	require.NoError(t, err)
	assert.False(ignored)

	b.handleReaction(ctx, reactionEvent(testMod, "$ev1", "👍"))
	b.handleReaction(ctx, reactionEvent(testMod, "$ev1", ReactIgnore))
	ignored, err = b.Engine.Store.Ignored.Has(ctx, "spam_9")
	require.NoError(t, err)
	assert.True(ignored)
}
