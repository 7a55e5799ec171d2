// Package kurrentdb is the concrete EventStore and eventbus.Transport
// backend built on the KurrentDB (EventStore) gRPC client, adapted from
// the teacher's internal/kurrentdb package: the same stream-per-
// aggregate naming convention, the same ExpectedRevision/
// ErrorCodeWrongExpectedVersion concurrency mapping, and persistent
// subscriptions for delivery (there is no catch-up subscription path)
// — generalized from a
// map[string]any event payload to the framework's registered-type
// eventstore.Envelope.
package kurrentdb

import (
	"github.com/EventStore/EventStore-Client-Go/v4/esdb"

	"github.com/serbia-gov/eventflow/config"
)

// Connect parses cfg into esdb client settings and opens a connection,
// matching the teacher's NewClient flow
// (internal/kurrentdb/client.go).
func Connect(cfg config.EventStoreConfig) (*esdb.Client, error) {
	settings, err := esdb.ParseConnectionString(cfg.ConnectionString())
	if err != nil {
		return nil, err
	}
	return esdb.NewClient(settings)
}
