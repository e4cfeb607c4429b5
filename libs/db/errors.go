package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInvalidText         = "22P02"
)

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsInvalidText reports a parameter Postgres could not parse for its
// column type, such as a malformed uuid.
func IsInvalidText(err error) bool {
	return hasCode(err, codeInvalidText)
}

// IsMissing treats a key that cannot name any row like a missing row.
func IsMissing(err error) bool {
	return IsNotFound(err) || IsInvalidText(err)
}

func IsUniqueViolation(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

func IsForeignKeyViolation(err error) bool {
	return hasCode(err, codeForeignKeyViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
