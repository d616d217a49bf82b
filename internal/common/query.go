package common

import (
	"errors"
	"strings"
)

var ErrInvalidQuery = errors.New("invalid query")

// Query addresses either every record of a target ("cycles") or one record
// ("cycles/c1"). The same string is used as the cache key on the client.
type Query struct {
	Target string
	ID     string
}

func ParseQuery(q string) (Query, error) {
	target, id, hasID := strings.Cut(strings.TrimSpace(q), "/")
	if target == "" || (hasID && (id == "" || strings.Contains(id, "/"))) {
		return Query{}, ErrInvalidQuery
	}
	return Query{Target: target, ID: id}, nil
}

func (q Query) String() string {
	if q.ID == "" {
		return q.Target
	}
	return q.Target + "/" + q.ID
}
