// Package testkit provides Given/When/Then scenario harnesses for
// aggregate command handlers, event processors, and sagas, in the
// teacher's plain *testing.T idiom (table-driven where it fits, no
// assertion library — see internal/case/domain/case_test.go) rather
// than a DSL built on testify/require. AggregateScenario takes a
// factory, a sequence of prior events ("Given") and a command ("When");
// ProcessorScenario supplies a recording command dispatcher and
// synthetic envelopes for a handler the caller invokes itself. Both
// hand the caller back whatever it needs to assert on ("Then" is left
// to the caller's own *testing.T checks, matching the rest of the
// corpus's style).
package testkit

import (
	"context"
	"fmt"
	"reflect"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/aggregate"
	"github.com/serbia-gov/eventflow/eventstore"
)

// AggregateScenario drives one Given/When/Then pass against a single
// aggregate instance, in-process, with no store backend at all: Given
// events are replayed directly onto a fresh Root, When applies one
// command through router, and the resulting emitted events (or error)
// are handed back for the caller to assert against.
type AggregateScenario[R aggregate.Root] struct {
	factory aggregate.Factory[R]
	router  *eventflow.Router[aggregate.CommandHandler[R]]
	given   []eventflow.Event
	id      eventflow.ID
}

// NewAggregateScenario starts a scenario for aggregate id, dispatching
// commands through router against Roots built by factory.
func NewAggregateScenario[R aggregate.Root](factory aggregate.Factory[R], router *eventflow.Router[aggregate.CommandHandler[R]], id eventflow.ID) *AggregateScenario[R] {
	return &AggregateScenario[R]{factory: factory, router: router, id: id}
}

// Given appends events that must already have happened before When
// runs, replayed onto the Root in order.
func (s *AggregateScenario[R]) Given(events ...eventflow.Event) *AggregateScenario[R] {
	s.given = append(s.given, events...)
	return s
}

// Result is what a scenario's When phase produces: the events the
// command handler emitted (if any), and the error it returned (if
// any). Exactly one of these is expected to be meaningful per the
// aggregate contract — a handler that errors should have emitted
// nothing, since Instance.Handle truncates uncommitted events on error.
type Result struct {
	Emitted []*eventstore.Envelope
	Err     error
}

// When replays Given onto a fresh Root, dispatches cmd against it
// through the scenario's router, and returns the emitted events and any
// error — without ever touching an EventStore, Repository, or event
// bus, so an aggregate's command-handling logic can be scenario-tested
// in isolation from its infrastructure.
func (s *AggregateScenario[R]) When(ctx context.Context, cmd eventflow.Command) Result {
	root := s.factory(s.id)
	inst := aggregate.NewInstance(s.id, root)

	envelopes := make([]*eventstore.Envelope, len(s.given))
	for i, e := range s.given {
		envelopes[i] = eventstore.NewEnvelope(s.id, "", eventTypeName(e), i+1, e, eventflow.ExecutionContext{})
	}
	inst.Replay(envelopes)
	inst.ClearUncommitted()

	err := inst.Handle(ctx, s.router, cmd)
	emitted := inst.UncommittedEvents()
	return Result{Emitted: emitted, Err: err}
}

// eventTypeName derives a readable event-type tag from a payload's Go
// type when the scenario doesn't have a real Registry to consult —
// acceptable here because Given/When never serialize anything, so the
// exact tag only needs to be stable within one scenario run, not
// globally unique the way eventstore.Registry's tags are.
func eventTypeName(e eventflow.Event) string {
	t := reflect.TypeOf(e)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return fmt.Sprintf("%s.%s", t.PkgPath(), t.Name())
}

// ProcessorScenario drives a processor.Handler (or a saga.Runtime.Handle
// wrapped as one) against a single synthetic event, collecting whatever
// commands a test double CommandDispatcher records, so a saga or
// projection's reaction to one event can be asserted without a real
// transport, checkpoint store, or command bus.
type ProcessorScenario struct {
	dispatched []DispatchedCommand
}

// DispatchedCommand records one command a scenario's fake dispatcher
// was handed.
type DispatchedCommand struct {
	Command eventflow.Command
}

func NewProcessorScenario() *ProcessorScenario {
	return &ProcessorScenario{}
}

// Dispatcher returns a command-dispatching function suitable for
// wherever the caller's processor.Handler or saga step expects one; it
// records every call instead of actually executing anything.
func (s *ProcessorScenario) Dispatcher() func(ctx context.Context, cmd eventflow.Command) (any, error) {
	return func(ctx context.Context, cmd eventflow.Command) (any, error) {
		s.dispatched = append(s.dispatched, DispatchedCommand{Command: cmd})
		return nil, nil
	}
}

// Dispatched returns every command recorded by Dispatcher so far.
func (s *ProcessorScenario) Dispatched() []DispatchedCommand {
	return s.dispatched
}

// Envelope builds a minimal *eventstore.Envelope wrapping payload, for
// feeding into a processor.Handler or saga.Runtime.Handle under test
// without needing a real EventStore to produce one.
func Envelope(aggregateType string, aggregateID eventflow.ID, sequence int, payload eventflow.Event) *eventstore.Envelope {
	return eventstore.NewEnvelope(aggregateID, aggregateType, eventTypeName(payload), sequence, payload, eventflow.ExecutionContext{})
}
