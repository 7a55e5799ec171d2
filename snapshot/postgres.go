// Package snapshot provides postgres-backed eventstore.SnapshotStore
// implementations, generalizing the teacher's pgx/v5 connection-pool
// usage (internal/shared/database/postgres.go) to the framework's
// storage-agnostic Snapshot backend contract.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serbia-gov/eventflow"
	"github.com/serbia-gov/eventflow/eventstore"
)

// PostgresStore is a pgx/v5-backed eventstore.SnapshotStore. Expected
// schema:
//
//	CREATE TABLE aggregate_snapshots (
//	    aggregate_type TEXT NOT NULL,
//	    aggregate_id   TEXT NOT NULL,
//	    version        INTEGER NOT NULL,
//	    state          BYTEA NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (aggregate_type, aggregate_id)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Save(ctx context.Context, snap *eventstore.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aggregate_snapshots (aggregate_type, aggregate_id, version, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE SET
			version = EXCLUDED.version, state = EXCLUDED.state, created_at = EXCLUDED.created_at`,
		snap.AggregateType, snap.AggregateID.String(), snap.Version, snap.State, snap.CreatedAt)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, aggregateType string, aggregateID eventflow.ID) (*eventstore.Snapshot, error) {
	snap := &eventstore.Snapshot{AggregateType: aggregateType, AggregateID: aggregateID}
	var createdAt time.Time
	row := s.pool.QueryRow(ctx, `
		SELECT version, state, created_at FROM aggregate_snapshots
		WHERE aggregate_type = $1 AND aggregate_id = $2`, aggregateType, aggregateID.String())
	err := row.Scan(&snap.Version, &snap.State, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.CreatedAt = createdAt
	return snap, nil
}

func (s *PostgresStore) Delete(ctx context.Context, aggregateType string, aggregateID eventflow.ID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM aggregate_snapshots WHERE aggregate_type = $1 AND aggregate_id = $2`,
		aggregateType, aggregateID.String())
	return err
}

var _ eventstore.SnapshotStore = (*PostgresStore)(nil)
