package modstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testTables(t *testing.T, s *Store) {
	assert := assert.New(t)
	ctx := context.Background()

	// events
	_, ok, err := s.Events.Get(ctx, "tg:1:100")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(s.Events.Add(ctx, "tg:1:100", "spam_42"))
	assert.NoError(s.Events.Add(ctx, "tg:1:101", "spam_42"))
	assert.NoError(s.Events.Add(ctx, "tg:1:102", "alice"))
	assert.Error(s.Events.Add(ctx, "", "alice"))

	u, ok, err := s.Events.Get(ctx, "tg:1:101")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("spam_42", u)

	n, err := s.Events.RemoveAllFor(ctx, "spam_42")
	assert.NoError(err)
	assert.Equal(2, n)
	_, ok, err = s.Events.Get(ctx, "tg:1:100")
	assert.NoError(err)
	assert.False(ok)
	u, ok, err = s.Events.Get(ctx, "tg:1:102")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("alice", u)

	assert.NoError(s.Events.Remove(ctx, "tg:1:102"))
	assert.NoError(s.Events.Remove(ctx, "tg:1:102"))
	n, err = s.Events.RemoveAllFor(ctx, "alice")
	assert.NoError(err)
	assert.Equal(0, n)

	// alerted and ignored are independent sets
	assert.NoError(s.Alerted.Add(ctx, "spam_42"))
	assert.NoError(s.Alerted.Add(ctx, "spam_42"))
	ok, err = s.Alerted.Has(ctx, "spam_42")
	assert.NoError(err)
	assert.True(ok)
	ok, err = s.Ignored.Has(ctx, "spam_42")
	assert.NoError(err)
	assert.False(ok)
	assert.NoError(s.Alerted.Remove(ctx, "spam_42"))
	ok, err = s.Alerted.Has(ctx, "spam_42")
	assert.NoError(err)
	assert.False(ok)

	// purge queue
	t0 := time.Unix(1_700_000_000, 0)
	assert.NoError(s.PurgeQueue.Add(ctx, "spam_42", t0))
	assert.NoError(s.PurgeQueue.Add(ctx, "bot_7", t0.Add(time.Hour)))
	at, ok, err := s.PurgeQueue.Get(ctx, "spam_42")
	assert.NoError(err)
	assert.True(ok)
	assert.True(t0.Equal(at))

	entries, err := s.PurgeQueue.List(ctx)
	assert.NoError(err)
	assert.Len(entries, 2)
	names := map[string]time.Time{}
	for _, e := range entries {
		names[e.Username] = e.EnqueuedAt
	}
	assert.True(t0.Add(time.Hour).Equal(names["bot_7"]))

	assert.NoError(s.PurgeQueue.Remove(ctx, "spam_42"))
	ok, err = s.PurgeQueue.Has(ctx, "spam_42")
	assert.NoError(err)
	assert.False(ok)
	assert.NoError(s.PurgeQueue.Remove(ctx, "bot_7"))
}

func testPending(t *testing.T, s *Store) {
	assert := assert.New(t)
	ctx := context.Background()

	ok, err := s.IsPending(ctx, "carol")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(s.Ignored.Add(ctx, "carol"))
	ok, err = s.IsPending(ctx, "carol")
	assert.NoError(err)
	assert.True(ok)
	assert.NoError(s.Ignored.Remove(ctx, "carol"))

	assert.NoError(s.PurgeQueue.Add(ctx, "carol", time.Now()))
	ok, err = s.IsPending(ctx, "carol")
	assert.NoError(err)
	assert.True(ok)
	assert.NoError(s.PurgeQueue.Remove(ctx, "carol"))

	assert.NoError(s.Alerted.Add(ctx, "carol"))
	ok, err = s.IsPending(ctx, "carol")
	assert.NoError(err)
	assert.True(ok)
	assert.NoError(s.Alerted.Remove(ctx, "carol"))
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	defer s.Close()
	testTables(t, s)
	testPending(t, s)
}

func TestPebbleStore(t *testing.T) {
	s, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testTables(t, s)
	testPending(t, s)
}

func TestPebbleStorePersists(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	assert.NoError(s.Events.Add(ctx, "$evt:example.org", "spam_42"))
	assert.NoError(s.Ignored.Add(ctx, "alice"))
	assert.NoError(s.Close())

	s, err = NewPebbleStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	u, ok, err := s.Events.Get(ctx, "$evt:example.org")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("spam_42", u)
	ok, err = s.Ignored.Has(ctx, "alice")
	assert.NoError(err)
	assert.True(ok)
}

func TestOpenRequiresLocation(t *testing.T) {
	_, err := Open("", "")
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	t.Skip("live test, need redis running locally")

	s, err := NewRedisStore("redis://localhost:6379/0")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testTables(t, s)
	testPending(t, s)
}
