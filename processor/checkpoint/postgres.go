package checkpoint

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a pgx/v5-backed Store, the durable default for a
// production deployment. It expects a table shaped like:
//
//	CREATE TABLE processor_checkpoints (
//	    processor_id   TEXT PRIMARY KEY,
//	    last_sequence  BIGINT NOT NULL,
//	    last_event_id  TEXT NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL,
//	    witness_proof  BYTEA,
//	    witness_url    TEXT
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Load(ctx context.Context, processorID string) (*Checkpoint, error) {
	cp := &Checkpoint{ProcessorID: processorID}
	row := s.pool.QueryRow(ctx, `
		SELECT last_sequence, last_event_id, updated_at, witness_proof, witness_url
		FROM processor_checkpoints WHERE processor_id = $1`, processorID)
	err := row.Scan(&cp.LastSequence, &cp.LastEventID, &cp.UpdatedAt, &cp.WitnessProof, &cp.WitnessURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *PostgresStore) Save(ctx context.Context, cp *Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processor_checkpoints (processor_id, last_sequence, last_event_id, updated_at, witness_proof, witness_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (processor_id) DO UPDATE SET
			last_sequence = EXCLUDED.last_sequence,
			last_event_id = EXCLUDED.last_event_id,
			updated_at = EXCLUDED.updated_at,
			witness_proof = EXCLUDED.witness_proof,
			witness_url = EXCLUDED.witness_url`,
		cp.ProcessorID, cp.LastSequence, cp.LastEventID, cp.UpdatedAt, cp.WitnessProof, cp.WitnessURL)
	return err
}

var _ Store = (*PostgresStore)(nil)
