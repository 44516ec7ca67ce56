package modstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

type pebbleBackend struct {
	db *pebble.DB
}

// NewPebbleStore opens (creating if needed) an embedded pebble database at path.
func NewPebbleStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}
	return newStore(&pebbleBackend{db: db}), nil
}

func (p *pebbleBackend) get(ctx context.Context, key string) ([]byte, bool, error) {
	val, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key: %w", err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), true, nil
}

func (p *pebbleBackend) set(ctx context.Context, key string, val []byte) error {
	return p.db.Set([]byte(key), val, pebble.Sync)
}

func (p *pebbleBackend) del(ctx context.Context, key string) error {
	err := p.db.Delete([]byte(key), pebble.Sync)
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (p *pebbleBackend) scan(ctx context.Context, prefix string, fn func(key string, val []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(string(iter.Key()), append([]byte(nil), iter.Value()...)); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *pebbleBackend) close() error {
	return p.db.Close()
}
