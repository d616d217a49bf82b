// Package models defines the records the engine persists in the local store.
// Field names and JSON tags are the on-disk layout; keep them stable.
package models

import (
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// Operation is the kind of write a mutation carries.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether o is one of the known operations.
func (o Operation) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// FailureKind records why the last delivery attempt of a mutation failed.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransient FailureKind = "transient"
	FailureRejected  FailureKind = "rejected"
)

// Mutation is one pending write waiting for delivery to the remote store.
type Mutation struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	Target        string          `json:"target"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	Attempts      int             `json:"attempts,omitempty"`
	FailureKind   FailureKind     `json:"failure_kind,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
}

// RecordID returns the primary key carried in the payload.
func (m *Mutation) RecordID() string {
	return RecordID(m.Payload)
}

// RowKey identifies the logical row the mutation touches. Mutations without
// a record id get an empty key and never share a row.
func (m *Mutation) RowKey() string {
	return RowKey(m.Target, m.RecordID())
}

// RowKey joins target and record id. An empty id yields "".
func RowKey(target, recordID string) string {
	if recordID == "" {
		return ""
	}
	return target + "/" + recordID
}

// RecordID extracts the "id" field of a JSON object payload.
func RecordID(payload json.RawMessage) string {
	return common.RecordID(payload)
}
