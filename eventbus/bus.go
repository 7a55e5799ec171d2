// Package eventbus implements the Event Bus: fanout of committed event
// batches to every subscribed processor, either synchronously (inline,
// within the commit's own call stack) or asynchronously (handed to a
// Transport and consumed independently by each processor's own loop).
// It generalizes the teacher's internal/shared/events.Bus/EventBus,
// which only ever did the KurrentDB-backed asynchronous case; here that
// becomes one Transport implementation among several (see
// eventstore/kurrentdb.Transport), with an in-memory Transport and a
// synchronous in-process Bus alongside it.
package eventbus

import (
	"context"
	"log"
	"sync"

	"github.com/serbia-gov/eventflow/eventstore"
	"github.com/serbia-gov/eventflow/metrics"
)

// Handler processes one committed event. Returning an error on a
// synchronous Bus propagates to the command dispatch that produced the
// event; on an asynchronous Bus it is reported to the Processor
// Executor driving that subscription instead (see package processor).
type Handler func(ctx context.Context, event *eventstore.Envelope) error

// Bus is implemented by both delivery strategies.
type Bus interface {
	// Subscribe registers processorID's handler. Order of registration
	// is the fanout order for SyncBus; it has no effect on AsyncBus,
	// whose processors consume independently.
	Subscribe(processorID string, handler Handler)
	// Publish delivers events (all from one commit) to every subscriber.
	Publish(ctx context.Context, events []*eventstore.Envelope) error
}

type subscription struct {
	id      string
	handler Handler
}

// SyncBus invokes every subscribed handler in registration order,
// inline, within Publish's own call — matching spec.md's "Synchronous
// delivery" mode: the aggregate repository's commit doesn't return
// until every synchronous subscriber has processed the batch (or one of
// them has failed it).
type SyncBus struct {
	mu   sync.RWMutex
	subs []subscription
}

func NewSyncBus() *SyncBus {
	return &SyncBus{}
}

func (b *SyncBus) Subscribe(processorID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{id: processorID, handler: handler})
}

func (b *SyncBus) Publish(ctx context.Context, events []*eventstore.Envelope) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		for _, e := range events {
			if err := sub.handler(ctx, e); err != nil {
				return err
			}
		}
	}
	for _, e := range events {
		metrics.RecordEventPublished(e.EventType)
	}
	return nil
}

var _ Bus = (*SyncBus)(nil)

// Transport is the asynchronous delivery substrate: Publish hands
// events off and returns; whether they are held durably depends on the
// implementation (MemoryTransport keeps them in process only, the
// KurrentDB transport persists them). Subscribe hands back a channel a processor's own
// executor loop drains independently of the publishing flow. Per-stream
// (per aggregate) ordering is guaranteed; no ordering is guaranteed
// across different aggregates' streams.
type Transport interface {
	Publish(ctx context.Context, events []*eventstore.Envelope) error
	Subscribe(ctx context.Context, processorID string) (<-chan *eventstore.Envelope, func(), error)
}

// AsyncBus hands committed events to a Transport and returns as soon as
// the transport accepts them — the commit doesn't wait for any
// subscriber to actually process the batch. Subscribe is a thin
// passthrough to the transport; the Processor Executor (package
// processor) is what actually drains a subscription's channel.
type AsyncBus struct {
	transport Transport
}

func NewAsyncBus(transport Transport) *AsyncBus {
	return &AsyncBus{transport: transport}
}

// Subscribe on AsyncBus is a no-op registration hook kept only so AsyncBus
// satisfies the Bus interface uniformly with SyncBus; real consumption
// happens via Transport.Subscribe, called directly by package processor
// when it builds an Executor.
func (b *AsyncBus) Subscribe(processorID string, handler Handler) {
	log.Printf("eventbus: Subscribe(%s) on an AsyncBus is a no-op; use processor.NewExecutor with the transport directly", processorID)
}

func (b *AsyncBus) Publish(ctx context.Context, events []*eventstore.Envelope) error {
	if err := b.transport.Publish(ctx, events); err != nil {
		return err
	}
	for _, e := range events {
		metrics.RecordEventPublished(e.EventType)
	}
	return nil
}

// Transport exposes the underlying Transport so callers (package
// processor, package builder) can subscribe to it directly.
func (b *AsyncBus) Transport() Transport { return b.transport }

var _ Bus = (*AsyncBus)(nil)
