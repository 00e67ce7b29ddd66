package database

import (
	"database/sql"
	"testing"
	"time"
)

func TestFormatParseTime(t *testing.T) {
	in := time.Date(2026, 3, 1, 14, 30, 0, 0, time.FixedZone("CET", 3600))

	s := FormatTime(in)
	if s != "2026-03-01T13:30:00Z" {
		t.Fatalf("FormatTime() = %q", s)
	}

	out, err := ParseTime(s)
	if err != nil {
		t.Fatalf("ParseTime() error = %v", err)
	}
	if !out.Equal(in) {
		t.Errorf("ParseTime() = %v, want %v", out, in)
	}

	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("ParseTime() accepted garbage")
	}
}

func TestNullableColumns(t *testing.T) {
	if got, err := ParseNullTime(sql.NullString{}); err != nil || got != nil {
		t.Errorf("ParseNullTime(NULL) = %v, %v", got, err)
	}

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := ParseNullTime(NullTime(&now))
	if err != nil || got == nil || !got.Equal(now) {
		t.Errorf("ParseNullTime(NullTime(now)) = %v, %v", got, err)
	}

	if NullString(nil).Valid || NullFloat(nil).Valid || NullTime(nil).Valid {
		t.Error("nil pointers must map to NULL")
	}

	s := "x"
	if p := StringPtr(NullString(&s)); p == nil || *p != "x" {
		t.Errorf("StringPtr round trip = %v", p)
	}
	f := 2.5
	if p := FloatPtr(NullFloat(&f)); p == nil || *p != 2.5 {
		t.Errorf("FloatPtr round trip = %v", p)
	}
}
