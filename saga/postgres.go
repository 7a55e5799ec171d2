package saga

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serbia-gov/eventflow"
)

// PostgresStore is a pgx/v5-backed Store. Expected schema:
//
//	CREATE TABLE saga_states (
//	    saga_id TEXT PRIMARY KEY,
//	    status  TEXT NOT NULL,
//	    data    JSONB NOT NULL
//	);
//	CREATE TABLE saga_step_log (
//	    saga_id TEXT NOT NULL,
//	    step_id TEXT NOT NULL,
//	    PRIMARY KEY (saga_id, step_id)
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Load(ctx context.Context, sagaID eventflow.ID) (*State, error) {
	var status string
	var rawData []byte
	row := s.pool.QueryRow(ctx, `SELECT status, data FROM saga_states WHERE saga_id = $1`, sagaID.String())
	err := row.Scan(&status, &rawData)
	if errors.Is(err, pgx.ErrNoRows) {
		return &State{SagaID: sagaID, Status: Absent}, nil
	}
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(rawData, &data); err != nil {
		return nil, err
	}
	return &State{SagaID: sagaID, Status: Status(status), Data: data}, nil
}

func (s *PostgresStore) Save(ctx context.Context, state *State) error {
	rawData, err := json.Marshal(state.Data)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO saga_states (saga_id, status, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (saga_id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data`,
		state.SagaID.String(), string(state.Status), rawData)
	return err
}

var _ Store = (*PostgresStore)(nil)

// PostgresStepLog is a pgx/v5-backed StepLog.
type PostgresStepLog struct {
	pool *pgxpool.Pool
}

func NewPostgresStepLog(pool *pgxpool.Pool) *PostgresStepLog {
	return &PostgresStepLog{pool: pool}
}

func (l *PostgresStepLog) MarkExecuted(ctx context.Context, sagaID eventflow.ID, stepID string) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO saga_step_log (saga_id, step_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, sagaID.String(), stepID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var _ StepLog = (*PostgresStepLog)(nil)
