package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// Service validates record writes and answers fetch queries.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func isObject(payload json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(payload, &obj) == nil && obj != nil
}

// Insert stores the record under its payload id, replacing any previous
// version, so a redelivered insert is harmless.
func (s *Service) Insert(ctx context.Context, target string, payload json.RawMessage) error {
	if target == "" {
		return fmt.Errorf("%w: empty target", ErrInvalid)
	}
	if !isObject(payload) {
		return fmt.Errorf("%w: payload is not a JSON object", ErrInvalid)
	}
	id := common.RecordID(payload)
	if id == "" {
		return fmt.Errorf("%w: payload has no id", ErrInvalid)
	}
	return s.repo.Insert(ctx, target, id, payload)
}

// Update replaces the record. The payload id, when present, must match id.
func (s *Service) Update(ctx context.Context, target, id string, payload json.RawMessage) error {
	if target == "" || id == "" {
		return fmt.Errorf("%w: empty target or id", ErrInvalid)
	}
	if !isObject(payload) {
		return fmt.Errorf("%w: payload is not a JSON object", ErrInvalid)
	}
	if pid := common.RecordID(payload); pid != "" && pid != id {
		return fmt.Errorf("%w: payload id %q does not match %q", ErrInvalid, pid, id)
	}
	return s.repo.Update(ctx, target, id, payload)
}

// Delete removes the record. Deleting a missing record succeeds.
func (s *Service) Delete(ctx context.Context, target, id string) error {
	if target == "" || id == "" {
		return fmt.Errorf("%w: empty target or id", ErrInvalid)
	}
	return s.repo.Delete(ctx, target, id)
}

// Fetch answers "target" with a JSON array and "target/id" with the record
// or null.
func (s *Service) Fetch(ctx context.Context, query string) (json.RawMessage, error) {
	q, err := common.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if q.ID != "" {
		v, err := s.repo.Get(ctx, q.Target, q.ID)
		if errors.Is(err, ErrNotFound) {
			return json.RawMessage("null"), nil
		}
		return v, err
	}

	list, err := s.repo.List(ctx, q.Target)
	if err != nil {
		return nil, err
	}
	return json.Marshal(list)
}
