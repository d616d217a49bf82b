package refreshtokens

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

// PostgresRepository stores revocations in revoked_refresh_tokens. Rows are
// pruned once the token they block has expired.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Revoke prunes expired revocations and records tokenID in one transaction.
func (r *PostgresRepository) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM revoked_refresh_tokens WHERE expires_at < $1`, r.now()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO revoked_refresh_tokens (token_id, expires_at) VALUES ($1, $2)
			 ON CONFLICT (token_id) DO NOTHING`, tokenID, expiresAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_refresh_tokens WHERE token_id = $1)`, tokenID).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return revoked, nil
}
