package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

func pgErrorCode(err error, constraint string) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ""
	}
	if constraint != "" && pgErr.ConstraintName != constraint {
		return ""
	}
	return pgErr.Code
}
