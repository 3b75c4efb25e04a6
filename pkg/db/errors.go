package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const sqlStateUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique-constraint failure. With
// a non-empty hint it also requires the constraint name (postgres) or the
// column list (sqlite) to mention hint, e.g. "order_number".
func IsUniqueViolation(err error, hint string) bool {
	if err == nil {
		return false
	}
	if pg := pkgerrors.Postgres(err); pg != nil {
		if pg.SQLState != sqlStateUniqueViolation {
			return false
		}
		return hint == "" || strings.Contains(pg.Constraint, hint) || strings.Contains(pg.Message, hint)
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "duplicate key value") {
		return false
	}
	return hint == "" || strings.Contains(msg, hint)
}
