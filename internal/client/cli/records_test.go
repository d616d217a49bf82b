package cli

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestAdd_GeneratesID(t *testing.T) {
	syncer := &fakeSync{writeOut: services.WriteResult{Outcome: services.OutcomeQueued}}
	app, out := newTestApp(&fakeAuth{}, syncer, readerFromLines("name=Cycle A", "hectares=12", ""))

	require.NoError(t, app.Add(context.Background(), []string{"cycles"}))

	require.Len(t, syncer.writes, 1)
	w := syncer.writes[0]
	assert.Equal(t, "cycles", w.target)
	assert.Equal(t, models.OpInsert, w.op)

	rec := decode(t, w.payload)
	assert.Equal(t, "Cycle A", rec["name"])
	assert.Equal(t, float64(12), rec["hectares"])
	_, err := uuid.Parse(rec["id"].(string))
	require.NoError(t, err)

	assert.Contains(t, out.String(), "queued for sync")
}

func TestAdd_KeepsGivenID(t *testing.T) {
	syncer := &fakeSync{writeOut: services.WriteResult{Outcome: services.OutcomeApplied}}
	app, out := newTestApp(&fakeAuth{}, syncer, readerFromLines("id=c1", "name=Cycle A", ""))

	require.NoError(t, app.Add(context.Background(), []string{"cycles"}))
	assert.Equal(t, "c1", decode(t, syncer.writes[0].payload)["id"])
	assert.Contains(t, out.String(), "insert cycles/c1: saved")
}

func TestAdd_BadFieldIsNotWritten(t *testing.T) {
	syncer := &fakeSync{}
	app, _ := newTestApp(&fakeAuth{}, syncer, readerFromLines("just text", ""))

	require.ErrorIs(t, app.Add(context.Background(), []string{"cycles"}), errBadField)
	assert.Empty(t, syncer.writes)
}

func TestAdd_WriteErrorIsReturned(t *testing.T) {
	boom := errors.New("local storage failed")
	app, _ := newTestApp(&fakeAuth{}, &fakeSync{writeErr: boom}, readerFromLines("name=x", ""))

	require.ErrorIs(t, app.Add(context.Background(), []string{"cycles"}), boom)
}

func TestUpdate_ForcesID(t *testing.T) {
	syncer := &fakeSync{}
	app, _ := newTestApp(&fakeAuth{}, syncer, readerFromLines("id=other", "name=B", ""))

	require.NoError(t, app.Update(context.Background(), []string{"cycles", "c1"}))
	w := syncer.writes[0]
	assert.Equal(t, models.OpUpdate, w.op)
	assert.Equal(t, map[string]any{"id": "c1", "name": "B"}, decode(t, w.payload))
}

func TestDelete(t *testing.T) {
	syncer := &fakeSync{}
	app, _ := newTestApp(&fakeAuth{}, syncer, nil)

	require.NoError(t, app.Delete(context.Background(), []string{"cycles", "c1"}))
	w := syncer.writes[0]
	assert.Equal(t, models.OpDelete, w.op)
	assert.JSONEq(t, `{"id":"c1"}`, string(w.payload))
}

func TestRecordCommands_Usage(t *testing.T) {
	app, _ := newTestApp(&fakeAuth{}, &fakeSync{}, nil)
	ctx := context.Background()

	var u usageError
	require.ErrorAs(t, app.Add(ctx, nil), &u)
	require.ErrorAs(t, app.Update(ctx, []string{"cycles"}), &u)
	require.ErrorAs(t, app.Delete(ctx, []string{"cycles"}), &u)
	require.ErrorAs(t, app.List(ctx, nil), &u)
}

func TestList_PrintsOneRecordPerLine(t *testing.T) {
	syncer := &fakeSync{readOut: services.ReadResult{
		Source: services.SourceRemote,
		Data:   json.RawMessage(`[ {"id": "c1"}, {"id": "c2"} ]`),
	}}
	app, out := newTestApp(&fakeAuth{}, syncer, nil)

	require.NoError(t, app.List(context.Background(), []string{"cycles"}))
	assert.Equal(t, "cycles", syncer.readQuery)
	assert.Equal(t, "{\"id\":\"c1\"}\n{\"id\":\"c2\"}\n", out.String())
}

func TestList_SingleRecordFromCache(t *testing.T) {
	syncer := &fakeSync{readOut: services.ReadResult{
		Source:   services.SourceCache,
		Data:     json.RawMessage(`{"id":"c1"}`),
		CachedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Stale:    true,
	}}
	app, out := newTestApp(&fakeAuth{}, syncer, nil)

	require.NoError(t, app.List(context.Background(), []string{"cycles/c1"}))
	assert.Contains(t, out.String(), "(cached ")
	assert.Contains(t, out.String(), ", stale)")
	assert.Contains(t, out.String(), `{"id":"c1"}`)
}

func TestList_NoData(t *testing.T) {
	app, out := newTestApp(&fakeAuth{}, &fakeSync{readOut: services.ReadResult{Source: services.SourceNone}}, nil)

	require.NoError(t, app.List(context.Background(), []string{"cycles"}))
	assert.Contains(t, out.String(), "nothing fresh in the cache")
}

func TestList_Empty(t *testing.T) {
	syncer := &fakeSync{readOut: services.ReadResult{Source: services.SourceRemote, Data: json.RawMessage(`[]`)}}
	app, out := newTestApp(&fakeAuth{}, syncer, nil)

	require.NoError(t, app.List(context.Background(), []string{"cycles"}))
	assert.Equal(t, "No records\n", out.String())
}
