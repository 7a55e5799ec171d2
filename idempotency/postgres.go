// Package idempotency provides a postgres-backed
// eventstore.IdempotencyStore, the durable default for the command
// bus's Idempotency middleware in a multi-process deployment (the
// in-memory store in package eventstore only works within one process).
package idempotency

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serbia-gov/eventflow/eventstore"
)

// PostgresStore is a pgx/v5-backed eventstore.IdempotencyStore. Expected
// schema:
//
//	CREATE TABLE idempotency_records (
//	    key        TEXT PRIMARY KEY,
//	    result     BYTEA,
//	    succeeded  BOOLEAN,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Reserve inserts a placeholder row for key if none exists yet. The
// unique primary key makes this atomic across concurrent dispatchers in
// different processes: only one INSERT wins.
func (s *PostgresStore) Reserve(ctx context.Context, key string) (bool, *eventstore.IdempotencyRecord, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_records (key, succeeded, created_at)
		VALUES ($1, NULL, now())
		ON CONFLICT (key) DO NOTHING`, key)
	if err != nil {
		return false, nil, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil, nil
	}

	rec := &eventstore.IdempotencyRecord{Key: key}
	var succeeded *bool
	row := s.pool.QueryRow(ctx, `SELECT result, succeeded, created_at FROM idempotency_records WHERE key = $1`, key)
	err = row.Scan(&rec.Result, &succeeded, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Reserved by a concurrent dispatch that hasn't completed yet.
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if succeeded == nil {
		// Reserved but not yet completed.
		return false, nil, nil
	}
	rec.Succeeded = *succeeded
	return false, rec, nil
}

func (s *PostgresStore) Complete(ctx context.Context, rec *eventstore.IdempotencyRecord) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE idempotency_records SET result = $2, succeeded = $3 WHERE key = $1`,
		rec.Key, rec.Result, rec.Succeeded)
	return err
}

var _ eventstore.IdempotencyStore = (*PostgresStore)(nil)
