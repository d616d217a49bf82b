package client

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// RemoteStore is the remote data store the engine delivers mutations to.
// Failures are ErrUnavailable (or anything else IsRetryable accepts) for
// transient problems and ErrRejected for refusals.
type RemoteStore interface {
	Insert(ctx context.Context, target string, payload json.RawMessage) error
	Update(ctx context.Context, target, id string, payload json.RawMessage) error
	Delete(ctx context.Context, target, id string) error
	Fetch(ctx context.Context, query string) (json.RawMessage, error)
}

// AuthClient is the remote identity provider.
type AuthClient interface {
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	// CurrentSession asks the server who the held tokens belong to. It
	// returns (nil, nil) when no tokens are held.
	CurrentSession(ctx context.Context) (*models.Session, error)
	// Restore loads tokens of a previously persisted session.
	Restore(s *models.Session)
	SignOut(ctx context.Context) error
}

// Apply sends one mutation to the remote store using the call matching its
// operation.
func Apply(ctx context.Context, rs RemoteStore, m *models.Mutation) error {
	switch m.Operation {
	case models.OpInsert:
		return rs.Insert(ctx, m.Target, m.Payload)
	case models.OpUpdate:
		return rs.Update(ctx, m.Target, m.RecordID(), m.Payload)
	case models.OpDelete:
		return rs.Delete(ctx, m.Target, m.RecordID())
	default:
		return ErrRejected
	}
}
