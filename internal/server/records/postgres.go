package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

// PostgresRepository keeps records in one JSONB table keyed by (target, id).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, target, id string, data json.RawMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO records (target, id, data) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (target, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		target, id, []byte(data))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, target, id string, data json.RawMessage) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET data = $3::jsonb, updated_at = now() WHERE target = $1 AND id = $2`,
		target, id, []byte(data))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, target, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE target = $1 AND id = $2`, target, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, target, id string) (json.RawMessage, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE target = $1 AND id = $2`, target, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return data, nil
}

// List returns the records of target ordered by id.
func (r *PostgresRepository) List(ctx context.Context, target string) ([]json.RawMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT data FROM records WHERE target = $1 ORDER BY id`, target)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]json.RawMessage, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
