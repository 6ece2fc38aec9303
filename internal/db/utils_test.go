package db

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/fieldwalk/fieldwalk/internal/config"
)

func TestDSN(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "db.local",
		Port:     5433,
		User:     "app",
		Password: "pw",
		Database: "fieldwalk",
		SSLMode:  "require",
	}
	want := "postgres://app:pw@db.local:5433/fieldwalk?sslmode=require"
	if got := DSN(cfg); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}

func TestParseUUIDRoundTrip(t *testing.T) {
	const id = "7f9c24e8-3b12-4fef-91f0-5c2f2a1a65bd"
	pgID, err := ParseUUID("  " + id + "  ")
	if err != nil {
		t.Fatalf("ParseUUID: %v", err)
	}
	if !pgID.Valid {
		t.Fatal("expected valid UUID")
	}
	if got := UUIDToString(pgID); got != id {
		t.Errorf("UUIDToString = %q, want %q", got, id)
	}
}

func TestParseUUIDInvalid(t *testing.T) {
	if _, err := ParseUUID("not-a-uuid"); err == nil {
		t.Fatal("expected error")
	}
}

func TestUUIDToStringInvalid(t *testing.T) {
	if got := UUIDToString(pgtype.UUID{}); got != "" {
		t.Errorf("UUIDToString(zero) = %q", got)
	}
}

func TestTimeFromPg(t *testing.T) {
	now := time.Now()
	if got := TimeFromPg(pgtype.Timestamptz{Time: now, Valid: true}); !got.Equal(now) {
		t.Errorf("TimeFromPg = %v, want %v", got, now)
	}
	if got := TimeFromPg(pgtype.Timestamptz{}); !got.IsZero() {
		t.Errorf("TimeFromPg(invalid) = %v, want zero", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("expected 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("plain error is not a unique violation")
	}
}
