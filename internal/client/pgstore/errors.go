package pgstore

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/jackc/pgx/v5/pgconn"
)

// classify maps a database error onto the remote error taxonomy. Data
// exceptions (22), integrity violations (23), and syntax or access rule
// violations (42, including insufficient_privilege) are rejections; the
// rest, connection failures included, are transient.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return fmt.Errorf("%w: %s (SQLSTATE %s)", client.ErrRejected, pgErr.Message, pgErr.Code)
		}
		return fmt.Errorf("%w: %s (SQLSTATE %s)", client.ErrUnavailable, pgErr.Message, pgErr.Code)
	}
	return fmt.Errorf("%w: %w", client.ErrUnavailable, err)
}
