package eventstore

import (
	"context"
	"sync"

	"github.com/serbia-gov/eventflow"
)

// MemoryStore is an in-process EventStore for tests and single-process
// use. It implements Rewriter too, so eager upcasting works against it
// without a real backend.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]*Envelope
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string][]*Envelope)}
}

func (s *MemoryStore) Append(ctx context.Context, aggregateType string, aggregateID eventflow.ID, expectedVersion int, events []*Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := StreamID(aggregateType, aggregateID)
	existing := s.streams[key]
	if len(existing) != expectedVersion {
		return ErrConcurrencyConflict
	}
	s.streams[key] = append(existing, events...)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, aggregateType string, aggregateID eventflow.ID) ([]*Envelope, error) {
	return s.LoadFrom(ctx, aggregateType, aggregateID, 0)
}

func (s *MemoryStore) LoadFrom(ctx context.Context, aggregateType string, aggregateID eventflow.ID, fromSequence int) ([]*Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := StreamID(aggregateType, aggregateID)
	all := s.streams[key]
	out := make([]*Envelope, 0, len(all))
	for _, e := range all {
		if e.Sequence > fromSequence {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) StreamVersion(ctx context.Context, aggregateType string, aggregateID eventflow.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[StreamID(aggregateType, aggregateID)]), nil
}

// Rewrite replaces a stream's stored events wholesale, used by eager
// upcasting to persist migrated payloads back to the store.
func (s *MemoryStore) Rewrite(ctx context.Context, aggregateType string, aggregateID eventflow.ID, events []*Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[StreamID(aggregateType, aggregateID)] = events
	return nil
}

var _ EventStore = (*MemoryStore)(nil)
var _ Rewriter = (*MemoryStore)(nil)

// MemorySnapshotStore is an in-process SnapshotStore.
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	snap map[string]*Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snap: make(map[string]*Snapshot)}
}

func (s *MemorySnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap[StreamID(snap.AggregateType, snap.AggregateID)] = snap
	return nil
}

func (s *MemorySnapshotStore) Load(ctx context.Context, aggregateType string, aggregateID eventflow.ID) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap[StreamID(aggregateType, aggregateID)], nil
}

func (s *MemorySnapshotStore) Delete(ctx context.Context, aggregateType string, aggregateID eventflow.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snap, StreamID(aggregateType, aggregateID))
	return nil
}

var _ SnapshotStore = (*MemorySnapshotStore)(nil)

// MemoryCacheStore is an in-process CacheStore.
type MemoryCacheStore struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{entries: make(map[string]*CacheEntry)}
}

func (c *MemoryCacheStore) Get(ctx context.Context, aggregateType string, aggregateID eventflow.ID) (*CacheEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[StreamID(aggregateType, aggregateID)]
	return e, ok, nil
}

func (c *MemoryCacheStore) Put(ctx context.Context, aggregateType string, entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[StreamID(aggregateType, entry.AggregateID)] = entry
	return nil
}

func (c *MemoryCacheStore) Invalidate(ctx context.Context, aggregateType string, aggregateID eventflow.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, StreamID(aggregateType, aggregateID))
	return nil
}

var _ CacheStore = (*MemoryCacheStore)(nil)

// MemoryIdempotencyStore is an in-process IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*IdempotencyRecord
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: make(map[string]*IdempotencyRecord)}
}

func (s *MemoryIdempotencyStore) Reserve(ctx context.Context, key string) (bool, *IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[key]; ok {
		return false, existing, nil
	}
	s.records[key] = nil
	return true, nil, nil
}

func (s *MemoryIdempotencyStore) Complete(ctx context.Context, rec *IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = rec
	return nil
}

var _ IdempotencyStore = (*MemoryIdempotencyStore)(nil)
