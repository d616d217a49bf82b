package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

func TestPostgresInsert_Upserts(t *testing.T) {
	r, mock := newPostgresWithMock(t)
	data := json.RawMessage(`{"id":"c1"}`)

	q := `INSERT INTO records \(target, id, data\) VALUES \(\$1, \$2, \$3::jsonb\)\s+` +
		`ON CONFLICT \(target, id\) DO UPDATE SET data = EXCLUDED.data, updated_at = now\(\)`
	mock.ExpectExec(q).
		WithArgs("cycles", "c1", []byte(data)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).
		WithArgs("cycles", "c1", []byte(data)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO records`).
		WillReturnError(errors.New("conn reset"))

	require.NoError(t, r.Insert(context.Background(), "cycles", "c1", data))
	require.NoError(t, r.Insert(context.Background(), "cycles", "c1", data))

	err := r.Insert(context.Background(), "cycles", "c2", data)
	require.ErrorContains(t, err, "conn reset")
}

func TestPostgresUpdateAndDelete(t *testing.T) {
	r, mock := newPostgresWithMock(t)
	data := json.RawMessage(`{"id":"c1","name":"B"}`)

	mock.ExpectExec(`UPDATE records SET data = \$3::jsonb, updated_at = now\(\) WHERE target = \$1 AND id = \$2`).
		WithArgs("cycles", "c1", []byte(data)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE records`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM records WHERE target = \$1 AND id = \$2`).
		WithArgs("cycles", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM records`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM records`).WillReturnError(errors.New("conn reset"))

	ctx := context.Background()
	require.NoError(t, r.Update(ctx, "cycles", "c1", data))
	require.ErrorIs(t, r.Update(ctx, "cycles", "c9", data), ErrNotFound)
	require.NoError(t, r.Delete(ctx, "cycles", "c1"))
	require.NoError(t, r.Delete(ctx, "cycles", "c1"), "deleting a missing row succeeds")

	err := r.Delete(ctx, "cycles", "c1")
	require.ErrorContains(t, err, "conn reset")
}

func TestPostgresGet(t *testing.T) {
	r, mock := newPostgresWithMock(t)

	q := `SELECT data FROM records WHERE target = \$1 AND id = \$2`
	mock.ExpectQuery(q).WithArgs("cycles", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"c1"}`)))
	mock.ExpectQuery(q).WithArgs("cycles", "c9").WillReturnError(sql.ErrNoRows)

	got, err := r.Get(context.Background(), "cycles", "c1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"c1"}`, string(got))

	_, err = r.Get(context.Background(), "cycles", "c9")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresList(t *testing.T) {
	r, mock := newPostgresWithMock(t)

	q := `SELECT data FROM records WHERE target = \$1 ORDER BY id`
	mock.ExpectQuery(q).WithArgs("cycles").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"a"}`)).
			AddRow([]byte(`{"id":"b"}`)))
	mock.ExpectQuery(q).WithArgs("empty").WillReturnRows(sqlmock.NewRows([]string{"data"}))

	got, err := r.List(context.Background(), "cycles")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"id":"b"}`, string(got[1]))

	got, err = r.List(context.Background(), "empty")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
