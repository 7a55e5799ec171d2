package aggregate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/eventstore"
	"github.com/serbia-gov/eventflow/ferrors"
	"github.com/serbia-gov/eventflow/metrics"
	"github.com/serbia-gov/eventflow/upcast"
)

// Publisher is the subset of eventbus.Bus the repository needs: handing
// a just-committed batch of events to whatever delivers them onward.
// Defined locally (rather than importing eventbus) so eventbus can stay
// a one-way dependent of eventstore without a cycle back through
// aggregate.
type Publisher interface {
	Publish(ctx context.Context, events []*eventstore.Envelope) error
}

// SnapshotEvery configures snapshot cadence: the repository takes a
// snapshot after a commit that leaves the stream's version at a
// multiple of this number. A commit whose batch steps over a multiple
// without landing on it takes none. Zero disables snapshotting.
type SnapshotEvery int

// Factory builds a fresh, zero-state Root for a given aggregate id, used
// both for a brand-new aggregate and as the starting point for replay.
type Factory[R Root] func(id eventflow.ID) R

// Repository loads, mutates, and commits instances of one aggregate
// type: it owns the snapshot/cache read-through, the per-id
// serialization that makes optimistic concurrency meaningful in a
// single process, the event-store append, and handing committed events
// to the Publisher. This is the generalized, storage-agnostic form of
// the teacher's per-aggregate postgres repositories (internal/case/
// infrastructure/postgres.go), restructured around the store/snapshot/
// cache interfaces in package eventstore instead of a concrete SQL
// table.
type Repository[R Root] struct {
	aggregateType string
	store         eventstore.EventStore
	snapshots     eventstore.SnapshotStore
	cache         eventstore.CacheStore
	publisher     Publisher
	upcaster      *upcast.Pipeline
	factory       Factory[R]
	router        *eventflow.Router[CommandHandler[R]]
	snapshotEvery SnapshotEvery

	locksMu sync.Mutex
	locks   map[eventflow.ID]*sync.Mutex
}

// Option configures optional Repository behavior.
type Option[R Root] func(*Repository[R])

func WithSnapshots[R Root](store eventstore.SnapshotStore, every SnapshotEvery) Option[R] {
	return func(r *Repository[R]) { r.snapshots = store; r.snapshotEvery = every }
}

func WithCache[R Root](cache eventstore.CacheStore) Option[R] {
	return func(r *Repository[R]) { r.cache = cache }
}

func WithPublisher[R Root](pub Publisher) Option[R] {
	return func(r *Repository[R]) { r.publisher = pub }
}

func WithUpcaster[R Root](p *upcast.Pipeline) Option[R] {
	return func(r *Repository[R]) { r.upcaster = p }
}

// NewRepository builds a Repository for aggregateType, backed by store,
// dispatching commands via router.
func NewRepository[R Root](aggregateType string, store eventstore.EventStore, factory Factory[R], router *eventflow.Router[CommandHandler[R]], opts ...Option[R]) *Repository[R] {
	r := &Repository[R]{
		aggregateType: aggregateType,
		store:         store,
		factory:       factory,
		router:        router,
		locks:         make(map[eventflow.ID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository[R]) lockFor(id eventflow.ID) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	return m
}

// captureSnapshot captures a Root's state as JSON, the form Load
// restores it through. Roots that want snapshotting to work must be plain,
// json-marshalable structs; a Root that isn't can still be used, just
// without snapshot support (Load always falls through to full replay).
func (r *Repository[R]) captureSnapshot(inst *Instance[R]) (*eventstore.Snapshot, error) {
	state, err := json.Marshal(inst.Root())
	if err != nil {
		return nil, ferrors.Wrap(ferrors.PermanentBackend, err, "snapshot marshal failed")
	}
	return &eventstore.Snapshot{
		AggregateID:   inst.ID(),
		AggregateType: r.aggregateType,
		Version:       inst.Version(),
		State:         state,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Load resolves the current state of aggregateID: cache (if fresh),
// else snapshot + tail replay, else full replay. A never-seen id yields
// a fresh zero-state instance at version 0, not an error — callers that
// need to distinguish "new" from "existing" should inspect Version()==0
// after Load.
func (r *Repository[R]) Load(ctx context.Context, id eventflow.ID) (*Instance[R], error) {
	storeVersion, err := r.store.StreamVersion(ctx, r.aggregateType, id)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.TransientBackend, err, "stream version lookup failed")
	}

	if r.cache != nil {
		if entry, ok, err := r.cache.Get(ctx, r.aggregateType, id); err == nil && ok && entry.Version == storeVersion {
			root := r.factory(id)
			if err := json.Unmarshal(entry.State, &root); err == nil {
				inst := NewInstance(id, root)
				inst.SetVersion(entry.Version)
				return inst, nil
			}
		}
	}

	root := r.factory(id)
	inst := NewInstance(id, root)
	fromSeq := 0

	if r.snapshots != nil {
		if snap, err := r.snapshots.Load(ctx, r.aggregateType, id); err == nil && snap != nil && snap.Version <= storeVersion {
			if err := json.Unmarshal(snap.State, &inst.root); err == nil {
				inst.SetVersion(snap.Version)
				fromSeq = snap.Version
			}
		}
	}

	events, err := r.store.LoadFrom(ctx, r.aggregateType, id, fromSeq)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.TransientBackend, err, "event load failed")
	}
	if r.upcaster != nil && len(events) > 0 {
		if err := r.upcaster.Apply(ctx, r.aggregateType, id, events); err != nil {
			return nil, err
		}
	}
	inst.Replay(events)

	if r.cache != nil {
		if state, err := json.Marshal(inst.Root()); err == nil {
			_ = r.cache.Put(ctx, r.aggregateType, &eventstore.CacheEntry{AggregateID: id, Version: inst.Version(), State: state})
		}
	}
	return inst, nil
}

// Handle loads aggregateID, dispatches cmd against it, and commits any
// resulting events, all under the per-id lock that makes the store's
// optimistic concurrency check meaningful within one process (two
// concurrent commands against the same aggregate in the same process
// are serialized here rather than racing to Append and having one
// retry).
func (r *Repository[R]) Handle(ctx context.Context, id eventflow.ID, cmd eventflow.Command) (*Instance[R], error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	inst, err := r.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := inst.Handle(ctx, r.router, cmd); err != nil {
		return nil, err
	}
	if err := r.commit(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (r *Repository[R]) commit(ctx context.Context, inst *Instance[R]) error {
	events := inst.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}
	expected := inst.Version()
	if err := r.store.Append(ctx, r.aggregateType, inst.ID(), expected, events); err != nil {
		if err == eventstore.ErrConcurrencyConflict {
			metrics.RecordConcurrencyConflict(r.aggregateType)
			return ferrors.ConcurrencyError(err)
		}
		return ferrors.Wrap(ferrors.TransientBackend, err, "event append failed")
	}
	inst.ClearUncommitted()
	for _, e := range events {
		metrics.RecordEventAppended(r.aggregateType, e.EventType)
	}

	if r.cache != nil {
		if state, err := json.Marshal(inst.Root()); err == nil {
			_ = r.cache.Put(ctx, r.aggregateType, &eventstore.CacheEntry{AggregateID: inst.ID(), Version: inst.Version(), State: state})
		}
	}
	if r.snapshots != nil && r.snapshotEvery > 0 && inst.Version()%int(r.snapshotEvery) == 0 {
		if snap, err := r.captureSnapshot(inst); err == nil {
			_ = r.snapshots.Save(ctx, snap)
			metrics.RecordSnapshotCaptured(r.aggregateType)
		}
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, events); err != nil {
			return ferrors.Wrap(ferrors.TransientBackend, err, "event publish failed")
		}
	}
	return nil
}
