package feed

import "sync/atomic"

// Store holds the latest Snapshot of a single feed. It has exactly one
// writer (the feed's worker) and any number of lock-free readers.
type Store struct {
	id   string
	snap atomic.Pointer[Snapshot]
}

// NewStore creates an empty store for the given feed.
func NewStore(feedID string) *Store {
	return &Store{id: feedID}
}

// ID returns the feed ID.
func (s *Store) ID() string {
	return s.id
}

// Load returns the latest snapshot, or nil if nothing was published yet.
func (s *Store) Load() *Snapshot {
	return s.snap.Load()
}

// Publish replaces the current snapshot.
func (s *Store) Publish(snap *Snapshot) {
	s.snap.Store(snap)
}
