package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when an insert hits a uniqueness constraint:
// a second decision for a work item, a second action for a decision, a
// replayed outcome event. Callers treat it as idempotent replay and read
// the existing row.
var ErrDuplicate = errors.New("storage: duplicate")

// isUniqueViolation reports whether err is a Postgres unique-key violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
