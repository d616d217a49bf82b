package refreshtokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresWithMock(t *testing.T, now time.Time) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	r := NewPostgresRepository(db)
	r.now = func() time.Time { return now }
	return r, mock
}

func TestPostgresRevoke_PrunesAndInsertsInOneTx(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Hour)
	r, mock := newPostgresWithMock(t, now)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM revoked_refresh_tokens WHERE expires_at < \$1`).
		WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`INSERT INTO revoked_refresh_tokens \(token_id, expires_at\) VALUES \(\$1, \$2\)\s+ON CONFLICT \(token_id\) DO NOTHING`).
		WithArgs("jti-1", exp).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, r.Revoke(context.Background(), "jti-1", exp))
}

func TestPostgresRevoke_RollsBackOnError(t *testing.T) {
	now := time.Now()
	r, mock := newPostgresWithMock(t, now)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM revoked_refresh_tokens`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO revoked_refresh_tokens`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := r.Revoke(context.Background(), "jti-1", now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestPostgresIsRevoked(t *testing.T) {
	r, mock := newPostgresWithMock(t, time.Now())

	q := `SELECT EXISTS \(SELECT 1 FROM revoked_refresh_tokens WHERE token_id = \$1\)`
	mock.ExpectQuery(q).WithArgs("jti-1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(q).WithArgs("jti-2").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(q).WithArgs("jti-3").WillReturnError(errors.New("conn reset"))

	ok, err := r.IsRevoked(context.Background(), "jti-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsRevoked(context.Background(), "jti-2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.IsRevoked(context.Background(), "jti-3")
	require.Error(t, err)
}
