// Package mssqlstore provides an alternate SQL Server-backed
// implementation of the Idempotency and Processor Checkpoint backend
// contracts, built on github.com/denisenkom/go-mssqldb. It exists to
// prove the framework's backend interfaces are genuinely
// storage-agnostic — the teacher used go-mssqldb for a peripheral
// integration elsewhere in its stack; here it gets a first-class home
// as a second real backend for the same two interfaces the postgres
// packages (idempotency, processor/checkpoint) already implement.
package mssqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/denisenkom/go-mssqldb"

	"github.com/serbia-gov/eventflow/eventstore"
	"github.com/serbia-gov/eventflow/processor/checkpoint"
)

// Open opens a *sql.DB against dsn using the mssql driver.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open("sqlserver", dsn)
}

// IdempotencyStore is a go-mssqldb-backed eventstore.IdempotencyStore.
// Expected schema:
//
//	CREATE TABLE idempotency_records (
//	    [key] NVARCHAR(200) PRIMARY KEY,
//	    result VARBINARY(MAX) NULL,
//	    succeeded BIT NULL,
//	    created_at DATETIME2 NOT NULL
//	);
type IdempotencyStore struct {
	db *sql.DB
}

func NewIdempotencyStore(db *sql.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (bool, *eventstore.IdempotencyRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		IF NOT EXISTS (SELECT 1 FROM idempotency_records WHERE [key] = @p1)
		INSERT INTO idempotency_records ([key], succeeded, created_at) VALUES (@p1, NULL, SYSUTCDATETIME())`, key)
	if err != nil {
		return false, nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return true, nil, nil
	}

	rec := &eventstore.IdempotencyRecord{Key: key}
	var succeeded sql.NullBool
	row := s.db.QueryRowContext(ctx, `SELECT result, succeeded, created_at FROM idempotency_records WHERE [key] = @p1`, key)
	err = row.Scan(&rec.Result, &succeeded, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if !succeeded.Valid {
		// Reserved by a concurrent dispatch that hasn't completed yet.
		return false, nil, nil
	}
	rec.Succeeded = succeeded.Bool
	return false, rec, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, rec *eventstore.IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_records SET result = @p2, succeeded = @p3 WHERE [key] = @p1`,
		rec.Key, rec.Result, rec.Succeeded)
	return err
}

var _ eventstore.IdempotencyStore = (*IdempotencyStore)(nil)

// CheckpointStore is a go-mssqldb-backed checkpoint.Store. Expected
// schema:
//
//	CREATE TABLE processor_checkpoints (
//	    processor_id NVARCHAR(200) PRIMARY KEY,
//	    last_sequence BIGINT NOT NULL,
//	    last_event_id NVARCHAR(64) NOT NULL,
//	    updated_at DATETIME2 NOT NULL,
//	    witness_proof VARBINARY(MAX) NULL,
//	    witness_url NVARCHAR(500) NULL
//	);
type CheckpointStore struct {
	db *sql.DB
}

func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func (s *CheckpointStore) Load(ctx context.Context, processorID string) (*checkpoint.Checkpoint, error) {
	cp := &checkpoint.Checkpoint{ProcessorID: processorID}
	row := s.db.QueryRowContext(ctx, `
		SELECT last_sequence, last_event_id, updated_at, witness_proof, witness_url
		FROM processor_checkpoints WHERE processor_id = @p1`, processorID)
	err := row.Scan(&cp.LastSequence, &cp.LastEventID, &cp.UpdatedAt, &cp.WitnessProof, &cp.WitnessURL)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *CheckpointStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		MERGE processor_checkpoints AS target
		USING (SELECT @p1 AS processor_id) AS src
		ON target.processor_id = src.processor_id
		WHEN MATCHED THEN UPDATE SET
			last_sequence = @p2, last_event_id = @p3, updated_at = @p4, witness_proof = @p5, witness_url = @p6
		WHEN NOT MATCHED THEN
			INSERT (processor_id, last_sequence, last_event_id, updated_at, witness_proof, witness_url)
			VALUES (@p1, @p2, @p3, @p4, @p5, @p6);`,
		cp.ProcessorID, cp.LastSequence, cp.LastEventID, cp.UpdatedAt, cp.WitnessProof, cp.WitnessURL)
	return err
}

var _ checkpoint.Store = (*CheckpointStore)(nil)
