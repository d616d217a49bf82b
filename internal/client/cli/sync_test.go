package cli

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPending(t *testing.T) {
	now := time.Now()
	syncer := &fakeSync{pending: []*models.Mutation{
		{ID: "m1", Target: "cycles", Operation: models.OpInsert, Payload: json.RawMessage(`{"id":"c1"}`), EnqueuedAt: now},
		{ID: "m2", Target: "cycles", Operation: models.OpUpdate, Payload: json.RawMessage(`{"id":"c2"}`), EnqueuedAt: now,
			Attempts: 1, FailureKind: models.FailureRejected, LastError: "no such row"},
		{ID: "m3", Target: "fields", Operation: models.OpDelete, Payload: json.RawMessage(`{"id":"f1"}`), EnqueuedAt: now,
			Attempts: 2, FailureKind: models.FailureTransient, LastError: "timeout"},
	}}
	app, out := newTestApp(&fakeAuth{}, syncer, nil)

	require.NoError(t, app.Pending(context.Background()))
	s := out.String()
	assert.Contains(t, s, "m1  insert cycles/c1")
	assert.Contains(t, s, "waiting")
	assert.Contains(t, s, "rejected, held: no such row")
	assert.Contains(t, s, "will retry: timeout")
	assert.Contains(t, s, "attempts 2")
}

func TestPending_Empty(t *testing.T) {
	app, out := newTestApp(&fakeAuth{}, &fakeSync{}, nil)

	require.NoError(t, app.Pending(context.Background()))
	assert.Equal(t, "Nothing pending\n", out.String())
}

func TestSync_Summary(t *testing.T) {
	syncer := &fakeSync{drainOut: services.DrainResult{Attempted: 4, Applied: 2, Retryable: 1, Rejected: 1}}
	app, out := newTestApp(&fakeAuth{}, syncer, nil)

	require.NoError(t, app.Sync(context.Background()))
	assert.Contains(t, out.String(), "Applied 2, will retry 1, rejected 1, deferred 0, held 0; 0 pending")
}

func TestSync_Skipped(t *testing.T) {
	syncer := &fakeSync{drainOut: services.DrainResult{Skipped: true, SkipReason: "offline"}}
	app, out := newTestApp(&fakeAuth{}, syncer, nil)

	require.NoError(t, app.Sync(context.Background()))
	assert.Equal(t, "Sync skipped: offline\n", out.String())
}

func TestSync_Error(t *testing.T) {
	boom := errors.New("boom")
	app, _ := newTestApp(&fakeAuth{}, &fakeSync{drainErr: boom}, nil)

	require.ErrorIs(t, app.Sync(context.Background()), boom)
}

func TestRetry(t *testing.T) {
	syncer := &fakeSync{}
	app, out := newTestApp(&fakeAuth{}, syncer, nil)

	require.NoError(t, app.Retry(context.Background(), []string{"m1"}))
	assert.Equal(t, []string{"m1"}, syncer.retried)
	assert.Contains(t, out.String(), "Retry scheduled for m1")

	syncer.retryErr = errors.New("not found")
	require.Error(t, app.Retry(context.Background(), []string{"m9"}))

	var u usageError
	require.ErrorAs(t, app.Retry(context.Background(), nil), &u)
}

func TestDiscard(t *testing.T) {
	syncer := &fakeSync{pending: []*models.Mutation{{ID: "m1"}}}
	app, out := newTestApp(&fakeAuth{}, syncer, nil)

	require.NoError(t, app.Discard(context.Background(), []string{"m1"}))
	assert.Equal(t, []string{"m1"}, syncer.discarded)
	assert.Contains(t, out.String(), "Discarded m1")

	require.Error(t, app.Discard(context.Background(), []string{"m9"}))
	assert.Equal(t, []string{"m1"}, syncer.discarded)
}
