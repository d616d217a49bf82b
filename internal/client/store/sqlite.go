package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

// SQLiteStore keeps records in the kv table created by the client migrations.
type SQLiteStore struct {
	db dbx.DBTX
}

func NewSQLiteStore(db dbx.DBTX) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (r *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get kv[%s]: %w", ErrLocalStorage, key, err)
	}
	return value, nil
}

func (r *SQLiteStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("%w: failed to put kv[%s]: %w", ErrLocalStorage, key, err)
	}
	return nil
}

func (r *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("%w: failed to delete kv[%s]: %w", ErrLocalStorage, key, err)
	}
	return nil
}

// ListByPrefix relies on the BINARY collation of the primary key: every key
// with the prefix sorts at or after it, so the scan stops at the first miss.
func (r *SQLiteStore) ListByPrefix(ctx context.Context, prefix string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key >= ? ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list kv[%s*]: %w", ErrLocalStorage, prefix, err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			return nil, fmt.Errorf("%w: failed to scan kv row: %w", ErrLocalStorage, err)
		}
		if !strings.HasPrefix(rec.Key, prefix) {
			break
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate kv rows: %w", ErrLocalStorage, err)
	}

	return result, nil
}
