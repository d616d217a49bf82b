package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/google/uuid"
)

// getFieldLines is an indirection used to facilitate testing.
var getFieldLines = GetFieldLines

func (a *App) readFields() (map[string]any, error) {
	lines, err := getFieldLines(a.reader, a)
	if err != nil {
		return nil, err
	}
	return ParseFields(lines)
}

func (a *App) write(ctx context.Context, target string, op models.Operation, record map[string]any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	res, err := a.syncer.Write(ctx, target, op, payload)
	if err != nil {
		return err
	}

	if res.Outcome == services.OutcomeQueued {
		a.printf("%s %s/%v: queued for sync", op, target, record["id"])
		return nil
	}
	a.printf("%s %s/%v: saved", op, target, record["id"])
	return nil
}

// Add prompts for the fields of a new record of target. A record without an
// id field gets a random UUID.
func (a *App) Add(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("add <target>")
	}

	record, err := a.readFields()
	if err != nil {
		return err
	}
	if id, ok := record["id"]; !ok || id == "" {
		record["id"] = uuid.NewString()
	}
	return a.write(ctx, args[0], models.OpInsert, record)
}

// Update replaces the record id of target with the entered fields.
func (a *App) Update(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("update <target> <id>")
	}

	record, err := a.readFields()
	if err != nil {
		return err
	}
	record["id"] = args[1]
	return a.write(ctx, args[0], models.OpUpdate, record)
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("delete <target> <id>")
	}
	return a.write(ctx, args[0], models.OpDelete, map[string]any{"id": args[1]})
}

// List prints the records of a target, or one record for target/id, from
// the server when reachable and from the cache otherwise.
func (a *App) List(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("list <target> | list <target>/<id>")
	}

	res, err := a.syncer.Read(ctx, args[0])
	if err != nil {
		return err
	}
	if !res.Available() {
		if res.FetchErr != nil {
			a.printf("No data: %v", res.FetchErr)
		} else {
			a.printf("No data: offline and nothing fresh in the cache")
		}
		return nil
	}

	if res.Source == services.SourceCache {
		note := ""
		if res.Stale {
			note = ", stale"
		}
		a.printf("(cached %s%s)", res.CachedAt.Local().Format(time.DateTime), note)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(res.Data, &items); err != nil {
		a.printf("%s", compact(res.Data))
		return nil
	}
	if len(items) == 0 {
		a.printf("No records")
		return nil
	}
	for _, it := range items {
		a.printf("%s", compact(it))
	}
	return nil
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
