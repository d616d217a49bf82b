// Package pgstore is a remote store that talks to PostgreSQL directly.
// Records live in one table keyed by (target, id) with the payload kept as
// JSONB.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/pgstore/migrations"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Store implements client.RemoteStore over a dbx.DBTX (*sql.DB or *sql.Tx).
type Store struct {
	db dbx.DBTX
}

func New(db dbx.DBTX) *Store {
	return &Store{db: db}
}

// Open connects to dsn with the pgx driver and applies the schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.Migrations)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration setup error: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", classify(err))
	}
	return db, nil
}

// Insert writes the record, replacing a row with the same id. A redelivered
// insert whose first acknowledgement was lost therefore succeeds.
func (s *Store) Insert(ctx context.Context, target string, payload json.RawMessage) error {
	id := models.RecordID(payload)
	if target == "" || id == "" {
		return fmt.Errorf("%w: insert into %q needs a payload id", client.ErrRejected, target)
	}

	query := `INSERT INTO records (target, id, data) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (target, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, query, target, id, string(payload)); err != nil {
		return fmt.Errorf("failed to insert %s/%s: %w", target, id, classify(err))
	}
	return nil
}

func (s *Store) Update(ctx context.Context, target, id string, payload json.RawMessage) error {
	if target == "" || id == "" {
		return fmt.Errorf("%w: update of %q needs an id", client.ErrRejected, target)
	}

	query := `UPDATE records SET data = $3::jsonb, updated_at = now() WHERE target = $1 AND id = $2`
	res, err := s.db.ExecContext(ctx, query, target, id, string(payload))
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", target, id, classify(err))
	}
	return expectOne(res, target, id)
}

// Delete removes the record; a row that is already gone is not an error.
func (s *Store) Delete(ctx context.Context, target, id string) error {
	if target == "" || id == "" {
		return fmt.Errorf("%w: delete from %q needs an id", client.ErrRejected, target)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE target = $1 AND id = $2`, target, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", target, id, classify(err))
	}
	return nil
}

func expectOne(res sql.Result, target, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", classify(err))
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s not found", client.ErrRejected, target, id)
	}
	return nil
}

// Fetch answers "target" with a JSON array of every record ordered by id and
// "target/id" with the record itself or null.
func (s *Store) Fetch(ctx context.Context, query string) (json.RawMessage, error) {
	q, err := common.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", client.ErrRejected, query, err)
	}

	var data []byte
	if q.ID == "" {
		err = s.db.QueryRowContext(ctx,
			`SELECT COALESCE(jsonb_agg(data ORDER BY id), '[]'::jsonb) FROM records WHERE target = $1`,
			q.Target).Scan(&data)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT data FROM records WHERE target = $1 AND id = $2`,
			q.Target, q.ID).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return json.RawMessage("null"), nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", q, classify(err))
	}
	return json.RawMessage(data), nil
}

var _ client.RemoteStore = (*Store)(nil)
