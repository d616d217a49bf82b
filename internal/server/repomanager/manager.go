// Package repomanager selects the storage backend of the development server:
// process memory, or PostgreSQL with the embedded goose migrations applied.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/server/migrations"
	"github.com/dmitrijs2005/fieldsync/internal/server/records"
	"github.com/dmitrijs2005/fieldsync/internal/server/refreshtokens"
	"github.com/dmitrijs2005/fieldsync/internal/server/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type Manager interface {
	Users() users.Repository
	RefreshTokens() refreshtokens.Repository
	Records() records.Repository
	Close() error
}

type repos struct {
	users         users.Repository
	refreshTokens refreshtokens.Repository
	records       records.Repository
}

func (r *repos) Users() users.Repository                 { return r.users }
func (r *repos) RefreshTokens() refreshtokens.Repository { return r.refreshTokens }
func (r *repos) Records() records.Repository             { return r.records }

type MemoryManager struct {
	repos
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{repos{
		users:         users.NewMemoryRepository(),
		refreshTokens: refreshtokens.NewMemoryRepository(),
		records:       records.NewMemoryRepository(),
	}}
}

func (m *MemoryManager) Close() error { return nil }

type PostgresManager struct {
	repos
	db *sql.DB
}

// gooseUp is a seam for testing the migration run.
var gooseUp = func(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// sqlOpen is a seam for tests that swap the driver.
var sqlOpen = sql.Open

// NewPostgresManager connects to dsn and migrates the schema.
func NewPostgresManager(ctx context.Context, dsn string) (*PostgresManager, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return newPostgresManager(ctx, db)
}

func newPostgresManager(ctx context.Context, db *sql.DB) (*PostgresManager, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	if err := gooseUp(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &PostgresManager{
		repos: repos{
			users:         users.NewPostgresRepository(db),
			refreshTokens: refreshtokens.NewPostgresRepository(db),
			records:       records.NewPostgresRepository(db),
		},
		db: db,
	}, nil
}

func (m *PostgresManager) Close() error {
	return m.db.Close()
}
