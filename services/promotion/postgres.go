package promotion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// registers the pgx driver for database/sql
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
)

// NewPostgresStore returns a store backed by a postgres table, creating the
// table when it does not exist yet
func NewPostgresStore(ctx context.Context, db *sql.DB) (Store, error) {

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS promotion_records (
			build_outcome_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			record JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return nil, fmt.Errorf("failed creating promotion_records table: %w", err)
	}

	return &postgresStore{db: db}, nil
}

type postgresStore struct {
	db *sql.DB
}

func (s *postgresStore) Create(ctx context.Context, record api.PromotionRecord) (err error) {

	data, err := json.Marshal(record)
	if err != nil {
		return
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO promotion_records (build_outcome_id, state, record, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (build_outcome_id) DO NOTHING`,
		record.BuildOutcomeID, string(record.State), data, time.Now().UTC())
	if err != nil {
		return api.Transient(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return api.Transient(err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: promotion record for build outcome %v already exists", api.ErrInvalidRequest, record.BuildOutcomeID)
	}

	return nil
}

func (s *postgresStore) Get(ctx context.Context, buildOutcomeID string) (record api.PromotionRecord, err error) {

	var data []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT record FROM promotion_records WHERE build_outcome_id = $1`,
		buildOutcomeID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return record, fmt.Errorf("%w: no promotion record for build outcome %v", api.ErrNotFound, buildOutcomeID)
	}
	if err != nil {
		return record, api.Transient(err)
	}

	err = json.Unmarshal(data, &record)

	return
}

func (s *postgresStore) Update(ctx context.Context, record api.PromotionRecord) (err error) {

	data, err := json.Marshal(record)
	if err != nil {
		return
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE promotion_records SET state = $2, record = $3, updated_at = $4
		WHERE build_outcome_id = $1`,
		record.BuildOutcomeID, string(record.State), data, time.Now().UTC())
	if err != nil {
		return api.Transient(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return api.Transient(err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: no promotion record for build outcome %v", api.ErrNotFound, record.BuildOutcomeID)
	}

	return nil
}

func (s *postgresStore) ListByState(ctx context.Context, state api.PromotionState) (records []api.PromotionRecord, err error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM promotion_records WHERE state = $1`, string(state))
	if err != nil {
		return nil, api.Transient(err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err = rows.Scan(&data); err != nil {
			return nil, api.Transient(err)
		}
		var record api.PromotionRecord
		if err = json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
