package modstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	eventsTable  = "events"
	alertedTable = "alerted"
	ignoredTable = "ignored"
	purgeTable   = "purge_queue"
)

// key/value backend. keys are "<table>/<key>"
type backend interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, val []byte) error
	del(ctx context.Context, key string) error
	// calls fn for every key with the prefix; must not be used to mutate the backend
	scan(ctx context.Context, prefix string, fn func(key string, val []byte) error) error
	close() error
}

func tableKey(table, key string) string {
	return table + "/" + key
}

// Store bundles the four moderation tables, sharing one backend.
type Store struct {
	Events     *Events
	Alerted    *UserSet
	Ignored    *UserSet
	PurgeQueue *PurgeQueue

	b backend
}

func newStore(b backend) *Store {
	return &Store{
		Events:     &Events{b: b},
		Alerted:    &UserSet{b: b, table: alertedTable},
		Ignored:    &UserSet{b: b, table: ignoredTable},
		PurgeQueue: &PurgeQueue{b: b},
		b:          b,
	}
}

// Open picks a backend: redis when redisURL is set, otherwise a pebble database at path.
func Open(path, redisURL string) (*Store, error) {
	if redisURL != "" {
		return NewRedisStore(redisURL)
	}
	if path == "" {
		return nil, fmt.Errorf("no database path or redis URL configured")
	}
	return NewPebbleStore(path)
}

func (s *Store) Close() error {
	return s.b.close()
}

// IsPending reports whether the account is ignored, has a pending alert, or is queued for
// purge. Three independent reads.
func (s *Store) IsPending(ctx context.Context, username string) (bool, error) {
	for _, t := range []*UserSet{s.Ignored, s.Alerted} {
		ok, err := t.Has(ctx, username)
		if err != nil || ok {
			return ok, err
		}
	}
	return s.PurgeQueue.Has(ctx, username)
}

// Events maps a chat message (or other alert anchor) id to the username it is about.
type Events struct {
	b backend
}

func (t *Events) Add(ctx context.Context, eventID, username string) error {
	if eventID == "" {
		return errors.New("empty event id")
	}
	return t.b.set(ctx, tableKey(eventsTable, eventID), []byte(username))
}

func (t *Events) Remove(ctx context.Context, eventID string) error {
	return t.b.del(ctx, tableKey(eventsTable, eventID))
}

// Get returns the username for an event, and whether the event is known.
func (t *Events) Get(ctx context.Context, eventID string) (string, bool, error) {
	val, ok, err := t.b.get(ctx, tableKey(eventsTable, eventID))
	if err != nil || !ok {
		return "", false, err
	}
	return string(val), true, nil
}

// RemoveAllFor deletes every event pointing at username, returning how many were removed.
//
// This is a read pass followed by one delete per event, not a single atomic operation.
func (t *Events) RemoveAllFor(ctx context.Context, username string) (int, error) {
	prefix := tableKey(eventsTable, "")
	var keys []string
	err := t.b.scan(ctx, prefix, func(key string, val []byte) error {
		if string(val) == username {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning events: %w", err)
	}
	removed := 0
	for _, k := range keys {
		if err := t.b.del(ctx, k); err != nil {
			return removed, fmt.Errorf("removing event: %w", err)
		}
		removed++
	}
	return removed, nil
}

// UserSet is a set of usernames (used for the alerted and ignored tables).
type UserSet struct {
	b     backend
	table string
}

func (t *UserSet) Add(ctx context.Context, username string) error {
	return t.b.set(ctx, tableKey(t.table, username), []byte{})
}

func (t *UserSet) Remove(ctx context.Context, username string) error {
	return t.b.del(ctx, tableKey(t.table, username))
}

func (t *UserSet) Has(ctx context.Context, username string) (bool, error) {
	_, ok, err := t.b.get(ctx, tableKey(t.table, username))
	return ok, err
}

// PurgeEntry is an account waiting for a lazy purge.
type PurgeEntry struct {
	Username   string
	EnqueuedAt time.Time
}

// PurgeQueue maps username to the time it was queued for purge, with second precision.
type PurgeQueue struct {
	b backend
}

func (t *PurgeQueue) Add(ctx context.Context, username string, at time.Time) error {
	return t.b.set(ctx, tableKey(purgeTable, username), []byte(strconv.FormatInt(at.Unix(), 10)))
}

func (t *PurgeQueue) Remove(ctx context.Context, username string) error {
	return t.b.del(ctx, tableKey(purgeTable, username))
}

func (t *PurgeQueue) Has(ctx context.Context, username string) (bool, error) {
	_, ok, err := t.b.get(ctx, tableKey(purgeTable, username))
	return ok, err
}

func (t *PurgeQueue) Get(ctx context.Context, username string) (time.Time, bool, error) {
	val, ok, err := t.b.get(ctx, tableKey(purgeTable, username))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	at, err := parseUnix(val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("purge queue entry for %s: %w", username, err)
	}
	return at, true, nil
}

// List returns every queued entry. Malformed entries are skipped.
func (t *PurgeQueue) List(ctx context.Context) ([]PurgeEntry, error) {
	prefix := tableKey(purgeTable, "")
	var out []PurgeEntry
	err := t.b.scan(ctx, prefix, func(key string, val []byte) error {
		at, err := parseUnix(val)
		if err != nil {
			return nil
		}
		out = append(out, PurgeEntry{Username: key[len(prefix):], EnqueuedAt: at})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning purge queue: %w", err)
	}
	return out, nil
}

func parseUnix(val []byte) (time.Time, error) {
	sec, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}
