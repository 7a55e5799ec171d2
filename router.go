package eventflow

import (
	"fmt"
	"reflect"
)

// RoutingError is returned by a strict Router when no handler matches a
// message's runtime type.
type RoutingError struct {
	MessageType reflect.Type
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("eventflow: no handler registered for type %s", e.MessageType)
}

// Router is a type-indexed dispatch table: one handler per distinct
// runtime payload type, resolved in O(1) by reflect.Type lookup rather
// than a type-switch chain. It is built once (a sequence of On calls)
// and sealed; registration after Seal panics, since the framework's
// components build their routers once at startup and never mutate them
// while traffic is flowing.
//
// Strict routers (used by aggregates and the command/query buses) treat
// an unmatched type as a routing error. Permissive routers (used by
// event processors) instead report "no handler" to the caller as a
// boolean so the caller can choose to skip the message silently — the
// one place in the framework an unmatched type is not automatically an
// error.
type Router[H any] struct {
	strict   bool
	handlers map[reflect.Type]H
	sealed   bool
}

// NewRouter constructs an empty Router. strict controls Route's
// behavior on an unmatched type: true returns a *RoutingError, false
// returns the zero handler and ok=false.
func NewRouter[H any](strict bool) *Router[H] {
	return &Router[H]{strict: strict, handlers: make(map[reflect.Type]H)}
}

// On registers handler for the exact runtime type of sample. Passing an
// AnyMessage{} sample registers a catch-all consulted when no exact
// type matches. On panics if the router has already been Sealed.
func (r *Router[H]) On(sample any, handler H) {
	if r.sealed {
		panic("eventflow: Router.On called after Seal")
	}
	r.handlers[reflect.TypeOf(sample)] = handler
}

// Seal marks the router immutable. The command and query buses call
// this (command.Bus.Seal, query.Bus.Build) once all handlers are
// registered, matching the invariant that message routing
// tables don't change while traffic flows.
func (r *Router[H]) Seal() { r.sealed = true }

// Sealed reports whether Seal has been called.
func (r *Router[H]) Sealed() bool { return r.sealed }

// Route resolves the handler registered for msg's exact runtime type,
// falling back to a catch-all registered against AnyMessage{} if one
// exists. In strict mode an unmatched type returns a *RoutingError.
func (r *Router[H]) Route(msg any) (H, bool, error) {
	t := reflect.TypeOf(msg)
	if h, ok := r.handlers[t]; ok {
		return h, true, nil
	}
	if h, ok := r.handlers[anyMessageType]; ok {
		return h, true, nil
	}
	var zero H
	if r.strict {
		return zero, false, &RoutingError{MessageType: t}
	}
	return zero, false, nil
}

// Len returns the number of distinct registered types, excluding the
// catch-all.
func (r *Router[H]) Len() int {
	n := len(r.handlers)
	if _, ok := r.handlers[anyMessageType]; ok {
		n--
	}
	return n
}

var anyMessageType = reflect.TypeOf(AnyMessage{})
