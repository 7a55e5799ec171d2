// Package query implements the Query Bus: routes a read-only Query to
// exactly one registered projection handler. Unlike the Command Bus,
// registering two handlers for the same query type is a build-time
// error rather than a routing ambiguity resolved at dispatch time — per
// spec.md's Open Question decided in SPEC_FULL.md §D.1.
package query

import (
	"context"
	"fmt"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/ferrors"
	"github.com/serbia-gov/eventflow/metrics"
)

// Handler answers a Query with a projection-specific result.
type Handler func(ctx context.Context, q eventflow.Query) (any, error)

// Bus is a build-time-validated, single-handler-per-type router from
// Query to Handler.
type Bus struct {
	router *eventflow.Router[Handler]
	built  bool
}

func NewBus() *Bus {
	return &Bus{router: eventflow.NewRouter[Handler](true)}
}

// Register binds handler to the query type of sample. Register after
// Build panics.
func (b *Bus) Register(sample eventflow.Query, handler Handler) error {
	if b.built {
		panic("eventflow/query: Register called after Build")
	}
	// Router.On silently overwrites a duplicate registration; the query
	// bus instead must reject it, so check before registering.
	if _, ok, _ := b.router.Route(sample); ok {
		return ferrors.RoutingError(fmt.Sprintf("duplicate query handler registered for type %T", sample))
	}
	b.router.On(sample, handler)
	return nil
}

// Build seals the router. Call once, after every Register.
func (b *Bus) Build() {
	b.router.Seal()
	b.built = true
}

// Dispatch routes q to its registered handler.
func (b *Bus) Dispatch(ctx context.Context, q eventflow.Query) (any, error) {
	if !b.built {
		panic("eventflow/query: Dispatch called before Build")
	}
	h, _, err := b.router.Route(q)
	if err != nil {
		metrics.RecordQuery(fmt.Sprintf("%T", q), "error")
		return nil, ferrors.Wrap(ferrors.Routing, err, "no query handler registered")
	}
	result, err := h(ctx, q)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordQuery(fmt.Sprintf("%T", q), outcome)
	return result, err
}
