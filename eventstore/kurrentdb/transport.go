package kurrentdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/eventstore"
)

// Transport implements eventbus.Transport on top of KurrentDB persistent
// subscriptions against the $all category stream, generalizing the
// teacher's internal/kurrentdb.Subscriber/internal/shared/events.Bus
// (both of which were KurrentDB-specific; here that becomes one
// Transport implementation the framework's eventbus.AsyncBus is built
// against).
type Transport struct {
	client   *esdb.Client
	registry *eventstore.Registry
}

func NewTransport(client *esdb.Client, registry *eventstore.Registry) *Transport {
	return &Transport{client: client, registry: registry}
}

// Publish appends events to their own aggregate streams; KurrentDB's
// $all projection makes every appended event visible to subscribers
// without a separate publish step, so this delegates straight to an
// EventStore.Append-equivalent per aggregate stream grouping.
func (t *Transport) Publish(ctx context.Context, events []*eventstore.Envelope) error {
	byStream := make(map[string][]*eventstore.Envelope)
	for _, e := range events {
		key := eventstore.StreamID(e.AggregateType, e.AggregateID)
		byStream[key] = append(byStream[key], e)
	}
	store := NewEventStore(t.client, t.registry)
	for _, group := range byStream {
		aggregateType := group[0].AggregateType
		aggregateID := group[0].AggregateID
		version, err := store.StreamVersion(ctx, aggregateType, aggregateID)
		if err != nil {
			return err
		}
		if err := store.Append(ctx, aggregateType, aggregateID, version, group); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe creates (if needed) a persistent subscription group named
// processorID on $all and returns a channel fed by a background
// goroutine. The goroutine Acks each event as soon as it is handed to
// the channel and Nacks-with-retry only an event it cannot convert to an
// Envelope. Whether the Processor Executor then handles the event
// successfully has no effect on the Ack.
func (t *Transport) Subscribe(ctx context.Context, processorID string) (<-chan *eventstore.Envelope, func(), error) {
	settings := esdb.SubscriptionSettingsDefault()
	settings.ResolveLinkTos = true

	err := t.client.CreatePersistentSubscriptionToAll(ctx, processorID, esdb.PersistentAllSubscriptionOptions{
		Settings:  &settings,
		StartFrom: esdb.Start{},
	})
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); !ok || esdbErr.Code() != esdb.ErrorCodeResourceAlreadyExists {
			return nil, nil, fmt.Errorf("kurrentdb: create persistent subscription %s: %w", processorID, err)
		}
	}

	sub, err := t.client.SubscribeToPersistentSubscriptionToAll(ctx, processorID, esdb.SubscribeToPersistentSubscriptionOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("kurrentdb: subscribe to %s: %w", processorID, err)
	}

	out := make(chan *eventstore.Envelope)
	done := make(chan struct{})
	go func() {
		defer sub.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			default:
			}

			event := sub.Recv()
			if event.EventAppeared == nil {
				if event.SubscriptionDropped != nil {
					log.Printf("kurrentdb: subscription %s dropped: %v", processorID, event.SubscriptionDropped.Error)
					return
				}
				continue
			}
			resolved := event.EventAppeared.Event
			if resolved == nil || resolved.Event == nil {
				continue
			}
			if len(resolved.Event.EventType) > 0 && resolved.Event.EventType[0] == '$' {
				sub.Ack(resolved)
				continue
			}

			env, err := t.toEnvelope(resolved)
			if err != nil {
				log.Printf("kurrentdb: subscription %s conversion error: %v", processorID, err)
				sub.Nack("conversion error", esdb.NackActionRetry, resolved)
				continue
			}

			select {
			case out <- env:
				sub.Ack(resolved)
			case <-ctx.Done():
				return
			}
		}
	}()

	unsubscribe := func() { close(done) }
	return out, unsubscribe, nil
}

func (t *Transport) toEnvelope(resolved *esdb.ResolvedEvent) (*eventstore.Envelope, error) {
	raw := resolved.Event
	payload, err := t.registry.New(raw.EventType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw.Data, payload); err != nil {
		return nil, fmt.Errorf("kurrentdb: unmarshal event payload: %w", err)
	}

	var meta envelopeMetadata
	if len(raw.UserMetadata) > 0 {
		_ = json.Unmarshal(raw.UserMetadata, &meta)
	}

	aggregateType, aggregateID := parseStreamName(raw.StreamID)
	return &eventstore.Envelope{
		ID:            eventflow.ID(raw.EventID.String()),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     raw.EventType,
		Sequence:      int(raw.EventNumber) + 1,
		Timestamp:     raw.CreatedDate,
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		ActorID:       meta.ActorID,
		Payload:       derefPointer(payload),
	}, nil
}

// parseStreamName extracts the aggregate type and id from a
// "{aggregateType}-{aggregateID}" stream name, the same heuristic the
// teacher's parseStreamName uses (helpers.go): a UUID is 36 characters,
// so a trailing hyphen-delimited segment of at least that length is
// treated as the id.
func parseStreamName(stream string) (string, eventflow.ID) {
	for i := len(stream) - 1; i >= 0; i-- {
		if stream[i] == '-' && i > 0 {
			remaining := stream[i+1:]
			if len(remaining) >= 36 {
				return stream[:i], eventflow.ID(remaining)
			}
		}
	}
	return stream, ""
}

var _ interface {
	Publish(ctx context.Context, events []*eventstore.Envelope) error
	Subscribe(ctx context.Context, processorID string) (<-chan *eventstore.Envelope, func(), error)
} = (*Transport)(nil)
