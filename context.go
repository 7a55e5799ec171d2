package eventflow

import "context"

// ExecutionContext is the ambient carrier threaded through a single
// command/event/saga-step flow: correlation_id ties every message in a
// flow together, causation_id names the immediate message that produced
// the current one, and aggregate_id (when set) names the aggregate
// instance in scope. It is propagated explicitly via context.Context
// rather than a goroutine-local global, since the pipeline hands work
// across middleware, aggregate handlers, and processor goroutines.
type ExecutionContext struct {
	CorrelationID string
	CausationID   string
	AggregateID   ID
	ActorID       string
}

type executionContextKey struct{}

// WithExecutionContext returns a copy of ctx carrying ec. A handler or
// middleware that derives a child message (a command dispatched from
// within an event handler, say) should call this with the child's own
// CausationID set to the parent message's ID, and CorrelationID copied
// forward unchanged.
func WithExecutionContext(ctx context.Context, ec ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey{}, &ec)
}

// ExecutionContextFrom returns the ExecutionContext carried by ctx, if
// any was set.
func ExecutionContextFrom(ctx context.Context) (ExecutionContext, bool) {
	ec, ok := ctx.Value(executionContextKey{}).(*ExecutionContext)
	if !ok || ec == nil {
		return ExecutionContext{}, false
	}
	return *ec, true
}

// NewCorrelatedContext starts a fresh flow: a new correlation id, no
// causation (this message is the root of its own flow). Command Bus
// dispatch uses this when the caller hasn't already supplied one.
func NewCorrelatedContext(ctx context.Context) context.Context {
	return WithExecutionContext(ctx, ExecutionContext{CorrelationID: NewID().String()})
}

// Derive builds the ExecutionContext for a message caused by the one
// already in ctx: same correlation, causation set to causationID (the
// id of the message in ctx).
func Derive(ctx context.Context, causationID string) ExecutionContext {
	parent, _ := ExecutionContextFrom(ctx)
	correlation := parent.CorrelationID
	if correlation == "" {
		correlation = NewID().String()
	}
	return ExecutionContext{
		CorrelationID: correlation,
		CausationID:   causationID,
		ActorID:       parent.ActorID,
	}
}
