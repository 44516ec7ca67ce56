package modstore

import "context"

type failingWrites struct {
	backend
	err error
}

func (f failingWrites) set(ctx context.Context, key string, val []byte) error {
	return f.err
}

// FailEventWrites makes every later write to the events table fail with err, while the other
// tables keep working. For tests of a store that breaks part way through.
func (s *Store) FailEventWrites(err error) {
	s.Events.b = failingWrites{backend: s.b, err: err}
}
