// Package upcast implements the event upcasting pipeline: a DAG of
// payload-type migrations that lets an aggregate's Apply methods only
// ever see the latest version of an event's payload, regardless of
// which historical version was actually persisted.
package upcast

import (
	"context"
	"fmt"
	"reflect"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/eventstore"
	"github.com/serbia-gov/eventflow/ferrors"
)

// Upcaster migrates one event payload from an older shape to the next
// shape in its chain. Implementations are pure functions: given the old
// payload, produce the new one.
type Upcaster interface {
	// From and To name the input and output payload types this upcaster
	// converts between, used to assemble the DAG and detect cycles.
	From() reflect.Type
	To() reflect.Type
	Upcast(old eventflow.Event) (eventflow.Event, error)
}

// Func adapts a plain function into an Upcaster given explicit sample
// values for its input and output types.
type Func struct {
	from, to reflect.Type
	fn       func(eventflow.Event) (eventflow.Event, error)
}

// NewFunc builds a Func upcaster. fromSample and toSample are zero
// values of the input/output payload types, used only to capture their
// reflect.Type.
func NewFunc(fromSample, toSample eventflow.Event, fn func(eventflow.Event) (eventflow.Event, error)) *Func {
	return &Func{from: reflect.TypeOf(fromSample), to: reflect.TypeOf(toSample), fn: fn}
}

func (f *Func) From() reflect.Type { return f.from }
func (f *Func) To() reflect.Type   { return f.to }
func (f *Func) Upcast(old eventflow.Event) (eventflow.Event, error) {
	return f.fn(old)
}

// Strategy controls when a chain of upcasters actually runs.
type Strategy int

const (
	// Lazy upcasts on every Load, leaving the stored payload untouched.
	// Works against any EventStore.
	Lazy Strategy = iota
	// Eager upcasts once and rewrites the stream via the store's
	// Rewriter, so subsequent loads skip the migration. Requires the
	// configured EventStore to implement eventstore.Rewriter; Pipeline
	// construction degrades an Eager pipeline to Lazy (recording why)
	// when it doesn't, rather than panicking at call time.
	Eager
)

// Pipeline resolves the upcaster chain for any registered starting
// payload type and applies it, either lazily (on read) or eagerly (read
// + rewrite), depending on Strategy.
type Pipeline struct {
	strategy  Strategy
	byFrom    map[reflect.Type]Upcaster
	store     eventstore.EventStore
	rewriter  eventstore.Rewriter
	degraded  bool // true when Eager was requested but the store can't Rewrite
}

// NewPipeline builds a Pipeline from a set of Upcasters. It returns an
// error if the upcasters form a cycle (a From/To chain that loops back
// on itself) or if two upcasters share the same From type (ambiguous
// chain, also a config error).
func NewPipeline(strategy Strategy, store eventstore.EventStore, upcasters ...Upcaster) (*Pipeline, error) {
	byFrom := make(map[reflect.Type]Upcaster, len(upcasters))
	for _, u := range upcasters {
		if _, dup := byFrom[u.From()]; dup {
			return nil, ferrors.UpcastingError(fmt.Sprintf("duplicate upcaster registered for input type %s", u.From()))
		}
		byFrom[u.From()] = u
	}
	if cycle := detectCycle(byFrom); cycle != "" {
		return nil, ferrors.UpcastingError("upcaster chain contains a cycle: " + cycle)
	}

	p := &Pipeline{strategy: strategy, byFrom: byFrom, store: store}
	if strategy == Eager {
		if rw, ok := store.(eventstore.Rewriter); ok {
			p.rewriter = rw
		} else {
			p.degraded = true
		}
	}
	return p, nil
}

// Degraded reports whether an Eager pipeline fell back to Lazy because
// the configured store doesn't implement Rewriter.
func (p *Pipeline) Degraded() bool { return p.degraded }

// Chain walks the upcaster DAG from payload's runtime type to
// completion (a type with no registered upcaster), returning the final
// migrated payload. A payload already at its latest shape passes
// through unchanged.
func (p *Pipeline) Chain(payload eventflow.Event) (eventflow.Event, bool, error) {
	current := payload
	migrated := false
	t := reflect.TypeOf(current)
	seen := make(map[reflect.Type]bool)
	for {
		if seen[t] {
			return nil, false, ferrors.UpcastingError("upcaster chain looped at runtime for type " + t.String())
		}
		seen[t] = true
		u, ok := p.byFrom[t]
		if !ok {
			return current, migrated, nil
		}
		next, err := u.Upcast(current)
		if err != nil {
			return nil, false, ferrors.Wrap(ferrors.Upcasting, err, "upcaster failed for type "+t.String())
		}
		current = next
		migrated = true
		t = reflect.TypeOf(current)
	}
}

// Apply migrates every envelope in events in place (Lazy) and, for an
// Eager pipeline with a working Rewriter, persists the migrated forms
// back to aggregateType/aggregateID's stream.
func (p *Pipeline) Apply(ctx context.Context, aggregateType string, aggregateID eventflow.ID, events []*eventstore.Envelope) error {
	anyMigrated := false
	for _, e := range events {
		migrated, changed, err := p.Chain(e.Payload)
		if err != nil {
			return err
		}
		if changed {
			e.Payload = migrated
			anyMigrated = true
		}
	}
	if p.strategy == Eager && anyMigrated && p.rewriter != nil {
		if err := p.rewriter.Rewrite(ctx, aggregateType, aggregateID, events); err != nil {
			return ferrors.Wrap(ferrors.TransientBackend, err, "eager upcast rewrite failed")
		}
	}
	return nil
}

func detectCycle(byFrom map[reflect.Type]Upcaster) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[reflect.Type]int, len(byFrom))

	var visit func(t reflect.Type, path []string) string
	visit = func(t reflect.Type, path []string) string {
		switch color[t] {
		case gray:
			return fmt.Sprintf("%v -> %s", path, t)
		case black:
			return ""
		}
		color[t] = gray
		path = append(path, t.String())
		if u, ok := byFrom[t]; ok {
			if cyc := visit(u.To(), path); cyc != "" {
				return cyc
			}
		}
		color[t] = black
		return ""
	}

	for from := range byFrom {
		if color[from] == white {
			if cyc := visit(from, nil); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}
