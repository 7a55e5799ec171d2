// Package eventstore defines the storage-agnostic contracts the
// framework's aggregate repository, event bus, and processors are built
// against: the event store itself, and the Snapshot/Cache/Idempotency
// backend interfaces. Concrete backends live in subpackages
// (eventstore/kurrentdb) or sibling packages (snapshot, idempotency,
// mssqlstore) that import this package rather than the reverse.
//
// This generalizes the teacher platform's internal/eventstore package:
// the same Append/Load/LoadFrom shape (its GetAggregateVersion is
// StreamVersion here), with the
// event payload generalized from map[string]any to an arbitrary
// registered Go type and metadata folded into the envelope itself.
package eventstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/serbia-gov/eventflow"
)

// Sentinel errors returned by EventStore implementations. Callers at
// the aggregate repository layer translate these into *ferrors.Error of
// the matching Kind at the command-bus boundary.
var (
	ErrConcurrencyConflict = errors.New("eventstore: concurrency conflict")
	ErrStreamNotFound      = errors.New("eventstore: stream not found")
)

// Envelope is the immutable, durable record of one event once appended:
// the event's identity, its place in its aggregate's stream, and the
// causal metadata carried forward from the command or event that
// produced it. Sequence is contiguous and monotonically increasing
// within a single AggregateID's stream — the store enforces this at
// Append time via expectedVersion.
type Envelope struct {
	ID            eventflow.ID   `json:"id"`
	AggregateID   eventflow.ID   `json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	EventType     string         `json:"event_type"`
	Sequence      int            `json:"sequence"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	CausationID   string         `json:"causation_id,omitempty"`
	ActorID       string         `json:"actor_id,omitempty"`
	Payload       eventflow.Event `json:"payload"`
}

// NewEnvelope constructs an Envelope around payload, stamping a fresh ID
// and timestamp. eventType is the payload's registered type name (see
// Registry), used to decode the payload back to its concrete Go type on
// Load when the store round-trips through a serialized form.
func NewEnvelope(aggregateID eventflow.ID, aggregateType, eventType string, sequence int, payload eventflow.Event, ec eventflow.ExecutionContext) *Envelope {
	return &Envelope{
		ID:            eventflow.NewID(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Sequence:      sequence,
		Timestamp:     time.Now().UTC(),
		CorrelationID: ec.CorrelationID,
		CausationID:   ec.CausationID,
		ActorID:       ec.ActorID,
		Payload:       payload,
	}
}

// Hash returns a SHA-256 digest of the envelope's JSON encoding, which
// a processor Executor with a checkpoint Witness timestamps for the
// event its checkpoint advanced to (see processor/checkpoint). Each
// digest covers this one envelope only; it is not chained to earlier
// ones.
func (e *Envelope) Hash() string {
	data, _ := json.Marshal(e)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StreamID is the event store's key for one aggregate instance's event
// stream, conventionally "{aggregateType}-{aggregateID}" (the teacher's
// KurrentDB stream-naming convention, kept as the default across every
// backend for consistency).
func StreamID(aggregateType string, aggregateID eventflow.ID) string {
	return aggregateType + "-" + aggregateID.String()
}

// EventStore is the append-only, per-aggregate-stream log every
// aggregate repository is built against.
type EventStore interface {
	// Append stores events for one aggregate stream under an optimistic
	// concurrency check: expectedVersion must equal the stream's current
	// length (0 for a brand-new stream), or ErrConcurrencyConflict is
	// returned and nothing is appended.
	Append(ctx context.Context, aggregateType string, aggregateID eventflow.ID, expectedVersion int, events []*Envelope) error

	// Load retrieves every event for one aggregate stream in sequence
	// order.
	Load(ctx context.Context, aggregateType string, aggregateID eventflow.ID) ([]*Envelope, error)

	// LoadFrom retrieves events for one aggregate stream starting after
	// fromSequence (exclusive), for snapshot-based replay.
	LoadFrom(ctx context.Context, aggregateType string, aggregateID eventflow.ID, fromSequence int) ([]*Envelope, error)

	// StreamVersion returns the current length (highest sequence number)
	// of one aggregate's stream, or 0 if the stream doesn't exist yet.
	StreamVersion(ctx context.Context, aggregateType string, aggregateID eventflow.ID) (int, error)
}

// Rewriter is optionally implemented by an EventStore backend able to
// physically rewrite a stream's stored payloads — the prerequisite for
// eager upcasting (upcast.Pipeline.Eager). A store that doesn't
// implement Rewriter only supports lazy upcasting.
type Rewriter interface {
	Rewrite(ctx context.Context, aggregateType string, aggregateID eventflow.ID, events []*Envelope) error
}

// Snapshot is a point-in-time capture of an aggregate's state used to
// bound replay cost on Load.
type Snapshot struct {
	AggregateID   eventflow.ID `json:"aggregate_id"`
	AggregateType string       `json:"aggregate_type"`
	Version       int          `json:"version"`
	State         []byte       `json:"state"`
	CreatedAt     time.Time    `json:"created_at"`
}

// SnapshotStore is advisory: a miss or a stale Version is never an
// error, only a signal to the repository to replay further back. It is
// never the aggregate's source of truth.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, aggregateType string, aggregateID eventflow.ID) (*Snapshot, error)
	Delete(ctx context.Context, aggregateType string, aggregateID eventflow.ID) error
}

// CacheEntry holds a serialized in-memory aggregate state plus the
// version it was captured at, so the repository can detect staleness
// against the store before trusting a cache hit.
type CacheEntry struct {
	AggregateID eventflow.ID
	Version     int
	State       []byte
}

// CacheStore is advisory, like SnapshotStore: a miss always falls back
// to the event store, and a hit is only used after the repository
// confirms its Version still matches the store.
type CacheStore interface {
	Get(ctx context.Context, aggregateType string, aggregateID eventflow.ID) (*CacheEntry, bool, error)
	Put(ctx context.Context, aggregateType string, entry *CacheEntry) error
	Invalidate(ctx context.Context, aggregateType string, aggregateID eventflow.ID) error
}

// IdempotencyRecord marks one command (identified by its idempotency
// key) as already dispatched, along with the result the first dispatch
// produced.
type IdempotencyRecord struct {
	Key       string    `json:"key"`
	Result    []byte    `json:"result"`
	Succeeded bool      `json:"succeeded"`
	CreatedAt time.Time `json:"created_at"`
}

// IdempotencyStore backs the command bus's Idempotency middleware.
// Reserve establishes the caller as the first to dispatch a given key
// (ok=false means someone else already holds it); Complete records the
// outcome so subsequent dispatches of the same key short-circuit to it.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (ok bool, existing *IdempotencyRecord, err error)
	Complete(ctx context.Context, rec *IdempotencyRecord) error
}
