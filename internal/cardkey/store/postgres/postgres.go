// Package postgres implements the store interfaces on a pgx pool.  Per-card
// exclusion is a row lock (SELECT ... FOR UPDATE) held by an open
// transaction, so it spans every server process sharing the database.
package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation  = "23505"
	codeLockNotAvailable = "55P03"
)

func pgCode(err error) string {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
