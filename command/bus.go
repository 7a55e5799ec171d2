// Package command implements the Command Bus: a middleware chain
// terminating in a handler that resolves a command's target aggregate
// and dispatches it through the aggregate repository. The Bus keeps its
// Middleware as an ordered slice; on each Dispatch it wraps the terminal
// handler in every Middleware, last to first, so the first element ends
// up outermost and each layer calls the next through its closure.
package command

import (
	"context"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/ferrors"
)

// Handler terminates the middleware chain for one command type: given
// the fully-processed command, produce a result or an error.
type Handler func(ctx context.Context, cmd eventflow.Command) (any, error)

// Middleware wraps next, optionally doing work before and after calling
// it, and may short-circuit by returning without calling next at all
// (used by the Idempotency middleware to return a cached result without
// re-dispatching).
type Middleware func(next Handler) Handler

// Bus routes a command to the Handler registered for its exact runtime
// type, running it through an ordered middleware chain built once at
// registration and sealed before any Dispatch call.
type Bus struct {
	router     *eventflow.Router[Handler]
	middleware []Middleware
	chain      Handler // not set: Dispatch builds the chain on every call
}

// NewBus constructs an empty Bus. middleware is applied outermost-first:
// the first element in the slice is the outermost layer, the one that
// sees the command before anything else and the result after everything
// else.
func NewBus(middleware ...Middleware) *Bus {
	return &Bus{
		router:     eventflow.NewRouter[Handler](true),
		middleware: middleware,
	}
}

// Register binds handler as the terminal handler for commands whose
// runtime type matches sample (typically a zero value of the command
// struct). Bus panics if called after Seal.
func (b *Bus) Register(sample eventflow.Command, handler Handler) {
	b.router.On(sample, handler)
}

// Seal freezes registration. Dispatch panics if called before Seal, so
// registration/build-time errors surface immediately rather than as a
// runtime routing failure deep in request handling.
func (b *Bus) Seal() {
	b.router.Seal()
}

// Dispatch resolves cmd's handler, wraps it in the middleware chain, and
// runs it. Each call re-wraps the resolved terminal handler with the
// middleware stack: middleware sees the actual target handler, not a
// generic "whatever's registered" indirection, so a middleware that
// inspects identity of the next handler (uncommon, but not ruled out)
// behaves correctly.
func (b *Bus) Dispatch(ctx context.Context, cmd eventflow.Command) (any, error) {
	if !b.router.Sealed() {
		panic("eventflow/command: Dispatch called before Seal")
	}
	terminal, _, err := b.router.Route(cmd)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Routing, err, "no command handler registered")
	}

	if _, ok := eventflow.ExecutionContextFrom(ctx); !ok {
		ctx = eventflow.NewCorrelatedContext(ctx)
	}

	h := terminal
	for i := len(b.middleware) - 1; i >= 0; i-- {
		h = b.middleware[i](h)
	}
	return h(ctx, cmd)
}
