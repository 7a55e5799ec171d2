package kurrentdb

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/eventstore"
)

// EventStore implements eventstore.EventStore and eventstore.Rewriter
// on top of a raw *esdb.Client, mirroring the teacher's
// internal/kurrentdb.EventStore.
type EventStore struct {
	client   *esdb.Client
	registry *eventstore.Registry
}

// NewEventStore builds an EventStore. registry resolves a payload's
// event-type tag to its concrete Go type on Load/LoadFrom.
func NewEventStore(client *esdb.Client, registry *eventstore.Registry) *EventStore {
	return &EventStore{client: client, registry: registry}
}

func (s *EventStore) Append(ctx context.Context, aggregateType string, aggregateID eventflow.ID, expectedVersion int, events []*eventstore.Envelope) error {
	if len(events) == 0 {
		return nil
	}
	stream := eventstore.StreamID(aggregateType, aggregateID)

	esdbEvents := make([]esdb.EventData, len(events))
	for i, e := range events {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("kurrentdb: marshal event payload: %w", err)
		}
		meta, err := json.Marshal(envelopeMetadata{
			CorrelationID: e.CorrelationID,
			CausationID:   e.CausationID,
			ActorID:       e.ActorID,
		})
		if err != nil {
			return fmt.Errorf("kurrentdb: marshal event metadata: %w", err)
		}

		eventID, err := uuid.Parse(e.ID.String())
		if err != nil {
			eventID = uuid.New()
		}
		esdbEvents[i] = esdb.EventData{
			EventID:     eventID,
			EventType:   e.EventType,
			ContentType: esdb.ContentTypeJson,
			Data:        data,
			Metadata:    meta,
		}
	}

	var options esdb.AppendToStreamOptions
	if expectedVersion == 0 {
		options.ExpectedRevision = esdb.NoStream{}
	} else {
		options.ExpectedRevision = esdb.Revision(uint64(expectedVersion - 1))
	}

	_, err := s.client.AppendToStream(ctx, stream, options, esdbEvents...)
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok && esdbErr.Code() == esdb.ErrorCodeWrongExpectedVersion {
			return eventstore.ErrConcurrencyConflict
		}
		return fmt.Errorf("kurrentdb: append events: %w", err)
	}
	return nil
}

func (s *EventStore) Load(ctx context.Context, aggregateType string, aggregateID eventflow.ID) ([]*eventstore.Envelope, error) {
	return s.LoadFrom(ctx, aggregateType, aggregateID, 0)
}

func (s *EventStore) LoadFrom(ctx context.Context, aggregateType string, aggregateID eventflow.ID, fromSequence int) ([]*eventstore.Envelope, error) {
	stream := eventstore.StreamID(aggregateType, aggregateID)

	var from esdb.StreamPosition
	if fromSequence > 0 {
		from = esdb.Revision(uint64(fromSequence))
	} else {
		from = esdb.Start{}
	}

	readStream, err := s.client.ReadStream(ctx, stream, esdb.ReadStreamOptions{From: from, Direction: esdb.Forwards}, 4096)
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("kurrentdb: read stream: %w", err)
	}
	defer readStream.Close()

	var out []*eventstore.Envelope
	for {
		resolved, err := readStream.Recv()
		if err != nil {
			break
		}
		env, err := s.toEnvelope(resolved, aggregateType, aggregateID)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func (s *EventStore) StreamVersion(ctx context.Context, aggregateType string, aggregateID eventflow.ID) (int, error) {
	stream := eventstore.StreamID(aggregateType, aggregateID)
	readStream, err := s.client.ReadStream(ctx, stream, esdb.ReadStreamOptions{From: esdb.End{}, Direction: esdb.Backwards}, 1)
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
			return 0, nil
		}
		return 0, err
	}
	defer readStream.Close()

	resolved, err := readStream.Recv()
	if err != nil {
		return 0, nil
	}
	return int(resolved.Event.EventNumber) + 1, nil
}

// Rewrite implements eventstore.Rewriter by truncating the stream's
// soft-delete metadata and re-appending the migrated events as a new
// stream generation. KurrentDB has no native "replace events in place"
// operation, so eager upcasting against it works by tombstoning the old
// stream and appending the upcasted history fresh — callers should
// prefer Lazy upcasting against this backend unless they specifically
// need the storage savings of eager rewriting.
func (s *EventStore) Rewrite(ctx context.Context, aggregateType string, aggregateID eventflow.ID, events []*eventstore.Envelope) error {
	stream := eventstore.StreamID(aggregateType, aggregateID)
	if _, err := s.client.TombstoneStream(ctx, stream, esdb.TombstoneStreamOptions{ExpectedRevision: esdb.Any{}}); err != nil {
		return fmt.Errorf("kurrentdb: tombstone stream for rewrite: %w", err)
	}
	return s.Append(ctx, aggregateType, aggregateID, 0, events)
}

func (s *EventStore) toEnvelope(resolved *esdb.ResolvedEvent, aggregateType string, aggregateID eventflow.ID) (*eventstore.Envelope, error) {
	raw := resolved.Event

	payload, err := s.registry.New(raw.EventType)
	if err != nil {
		return nil, fmt.Errorf("kurrentdb: %w", err)
	}
	if err := json.Unmarshal(raw.Data, payload); err != nil {
		return nil, fmt.Errorf("kurrentdb: unmarshal event payload: %w", err)
	}

	var meta envelopeMetadata
	if len(raw.UserMetadata) > 0 {
		_ = json.Unmarshal(raw.UserMetadata, &meta)
	}

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

// derefPointer unwraps the pointer Registry.New hands back so the
// envelope's Payload holds the same value shape (value, not pointer)
// the aggregate's Apply methods were written against.
func derefPointer(v any) any {
	return reflect.ValueOf(v).Elem().Interface()
}

type envelopeMetadata struct {
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
}

var _ eventstore.EventStore = (*EventStore)(nil)
var _ eventstore.Rewriter = (*EventStore)(nil)
