package dedup

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

const dedupSchema = `
CREATE TABLE IF NOT EXISTS dedup_keys (
	dedup_key        TEXT PRIMARY KEY,
	build_request_id TEXT NOT NULL,
	inserted_at      TIMESTAMPTZ NOT NULL
)`

// NewPostgresClient returns a dedup.Client backed by a postgres table so
// concurrent receivers across replicas see the same atomic check-and-insert
func NewPostgresClient(ctx context.Context, db *sql.DB, ttl time.Duration) (Client, error) {
	if _, err := db.ExecContext(ctx, dedupSchema); err != nil {
		return nil, api.Transient(err)
	}
	return &postgresClient{
		db:  db,
		ttl: ttl,
	}, nil
}

type postgresClient struct {
	db  *sql.DB
	ttl time.Duration
}

func (c *postgresClient) CheckAndInsert(ctx context.Context, dedupKey, buildRequestID string) (existingID string, inserted bool, err error) {

	now := time.Now().UTC()

	// the conditional upsert claims the key when it is absent or expired; a
	// losing concurrent insert returns no row and falls through to the lookup
	row := c.db.QueryRowContext(ctx, `
		INSERT INTO dedup_keys (dedup_key, build_request_id, inserted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (dedup_key) DO UPDATE
		SET build_request_id = EXCLUDED.build_request_id, inserted_at = EXCLUDED.inserted_at
		WHERE dedup_keys.inserted_at < $4
		RETURNING build_request_id`,
		dedupKey, buildRequestID, now, now.Add(-c.ttl))

	err = row.Scan(&existingID)
	if err == nil {
		return existingID, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, api.Transient(err)
	}

	row = c.db.QueryRowContext(ctx, `SELECT build_request_id FROM dedup_keys WHERE dedup_key = $1`, dedupKey)
	if err = row.Scan(&existingID); err != nil {
		return "", false, api.Transient(err)
	}

	return existingID, false, nil
}
