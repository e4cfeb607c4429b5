package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestErrorClassification(t *testing.T) {
	if !IsNotFound(fmt.Errorf("get customer: %w", pgx.ErrNoRows)) {
		t.Fatalf("wrapped ErrNoRows should be not found")
	}
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(unique) || IsForeignKeyViolation(unique) {
		t.Fatalf("unexpected classification for unique violation")
	}
	if !IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("expected foreign key violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error should not classify")
	}
}

func TestMalformedKeyIsMissing(t *testing.T) {
	bad := fmt.Errorf("get customer: %w", &pgconn.PgError{Code: "22P02"})
	if !IsInvalidText(bad) || !IsMissing(bad) {
		t.Fatalf("invalid text should read as missing")
	}
	if !IsMissing(pgx.ErrNoRows) {
		t.Fatalf("no rows should read as missing")
	}
	if IsMissing(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("unique violation is not missing")
	}
}
