// Package aggregate provides the aggregate runtime: the Root contract
// user domain types implement, the Instance bookkeeping wrapper
// (version, uncommitted events), and the command-handling Scope passed
// into a command handler. It generalizes the teacher platform's
// internal/eventstore.AggregateRoot/BaseAggregate — the same
// version/uncommitted-events bookkeeping, generalized from a fixed
// struct to a generic wrapper around any user-defined Root.
package aggregate

import (
	"context"
	"fmt"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/eventstore"
	"github.com/serbia-gov/eventflow/ferrors"
)

// Root is implemented by a user-defined aggregate state type: the pure
// data and behavior of one aggregate, with no knowledge of persistence.
type Root interface {
	// AggregateType returns the stable type name used as the event
	// store's stream-type component and the snapshot type tag. It must
	// return the same value for every instance of a given Go type.
	AggregateType() string

	// Apply mutates the aggregate's state to reflect an event. It runs
	// both when a command handler emits a new event and when the
	// repository replays history, so it must be a pure, synchronous,
	// side-effect-free function of (current state, event) -> new state.
	Apply(event eventflow.Event)
}

// CommandHandler validates and decides on a command against the current
// state of root, emitting zero or more events via scope. An error
// aborts the command: anything already emitted within the same handler
// invocation is discarded, never partially committed.
type CommandHandler[R Root] func(root R, scope *Scope, cmd eventflow.Command) error

// Scope is the capability a command handler is given to record events.
// Emit both buffers the event for the eventual Append and immediately
// applies it to the aggregate's state, so later logic within the same
// handler observes the effect of an earlier Emit call in the same
// invocation.
type Scope struct {
	ec            eventflow.ExecutionContext
	apply         func(eventflow.Event)
	aggregateID   eventflow.ID
	aggregateType string
	baseVersion   int
	emitted       *[]*eventstore.Envelope
}

// Emit records payload as a new event for the aggregate in scope,
// applies it to the aggregate's in-memory state, and returns the
// resulting envelope (not yet durable — durability happens at
// Repository commit).
func (s *Scope) Emit(eventType string, payload eventflow.Event) *eventstore.Envelope {
	seq := s.baseVersion + len(*s.emitted) + 1
	env := eventstore.NewEnvelope(s.aggregateID, s.aggregateType, eventType, seq, payload, s.ec)
	*s.emitted = append(*s.emitted, env)
	s.apply(payload)
	return env
}

// AggregateID returns the id of the aggregate instance in scope.
func (s *Scope) AggregateID() eventflow.ID { return s.aggregateID }

// ExecutionContext returns the flow's correlation/causation metadata.
func (s *Scope) ExecutionContext() eventflow.ExecutionContext { return s.ec }

// Instance wraps a user Root with the version and uncommitted-event
// bookkeeping the repository needs, mirroring the teacher's
// BaseAggregate fields (id/version/uncommittedEvents) generalized over
// any Root type.
type Instance[R Root] struct {
	id          eventflow.ID
	root        R
	version     int
	uncommitted []*eventstore.Envelope
}

// NewInstance wraps root as aggregate id, starting at version 0 (no
// history loaded yet).
func NewInstance[R Root](id eventflow.ID, root R) *Instance[R] {
	return &Instance[R]{id: id, root: root}
}

func (i *Instance[R]) ID() eventflow.ID { return i.id }
func (i *Instance[R]) Version() int     { return i.version }
func (i *Instance[R]) Root() R          { return i.root }

// UncommittedEvents returns events emitted since the last
// ClearUncommitted, in emission order.
func (i *Instance[R]) UncommittedEvents() []*eventstore.Envelope { return i.uncommitted }

// ClearUncommitted advances version past every uncommitted event and
// empties the buffer. The repository calls this once those events are
// durably appended.
func (i *Instance[R]) ClearUncommitted() {
	if n := len(i.uncommitted); n > 0 {
		i.version = i.uncommitted[n-1].Sequence
	}
	i.uncommitted = nil
}

// Replay applies historical events in sequence order, used both for a
// fresh load from the store and for snapshot-then-tail replay. It does
// not touch the uncommitted buffer.
func (i *Instance[R]) Replay(events []*eventstore.Envelope) {
	for _, e := range events {
		i.root.Apply(e.Payload)
		i.version = e.Sequence
	}
}

// SetVersion forces the instance's version, used when restoring from a
// snapshot whose State has already been unmarshaled into root.
func (i *Instance[R]) SetVersion(v int) { i.version = v }

func (i *Instance[R]) newScope(ec eventflow.ExecutionContext) *Scope {
	return &Scope{
		ec:            ec,
		apply:         i.root.Apply,
		aggregateID:   i.id,
		aggregateType: i.root.AggregateType(),
		baseVersion:   i.version,
		emitted:       &i.uncommitted,
	}
}

// Handle resolves cmd's handler via router and invokes it. On error, any
// events the handler emitted before failing are discarded (the
// handler's own partial mutation of root is not rolled back — handlers
// are expected to validate before emitting, per CommandHandler's
// contract — but the events never reach ClearUncommitted/Append since
// the caller won't call either on error).
func (i *Instance[R]) Handle(ctx context.Context, router *eventflow.Router[CommandHandler[R]], cmd eventflow.Command) error {
	ec, ok := eventflow.ExecutionContextFrom(ctx)
	if !ok {
		ec = eventflow.ExecutionContext{CorrelationID: eventflow.NewID().String()}
	}
	handler, _, err := router.Route(cmd)
	if err != nil {
		return err
	}
	scope := i.newScope(ec)
	before := len(i.uncommitted)
	if err := handler(i.root, scope, cmd); err != nil {
		i.uncommitted = i.uncommitted[:before]
		return fmt.Errorf("aggregate %s/%s: %w", i.root.AggregateType(), i.id, err)
	}
	return nil
}

// ErrNotFound is a Domain error for a missing aggregate. Repository
// does not return it: Load yields a fresh instance at version 0 for an
// id with no stream.
var ErrNotFound = ferrors.DomainError("aggregate not found")
