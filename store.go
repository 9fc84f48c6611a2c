package replmap

import (
	"sync"

	"golang.org/x/exp/maps"
)

// store is the local key/value table of a member. Every access, including
// snapshotting and restoring, is serialized by a single lock so that
// deliveries, state transfers, and reads never observe a partial update.
type store struct {
	entries map[string]int
	mu      sync.Mutex
}

func newStore() *store {
	return &store{entries: make(map[string]int)}
}

// apply applies a delivered envelope and returns the number of entries
// afterwards. Removing an absent key is a no-op.
func (s *store) apply(envelope Envelope) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch envelope.Op {
	case Add:
		s.entries[envelope.Key] = envelope.Value
	case Remove:
		delete(s.entries, envelope.Key)
	}
	return len(s.entries)
}

func (s *store) get(key string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	return value, ok
}

func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// copy returns a copy of the current entries.
func (s *store) copy() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.entries)
}

// snapshot encodes the entire table.
func (s *store) snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return encodeSnapshot(s.entries)
}

// restore replaces the table with the contents of a snapshot. Entries that
// are not part of the snapshot are dropped. The snapshot is decoded before
// the lock is taken, so a malformed snapshot leaves the table untouched.
func (s *store) restore(data []byte) (int, error) {
	entries, err := decodeSnapshot(data)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Clear(s.entries)
	maps.Copy(s.entries, entries)

	return len(s.entries), nil
}
