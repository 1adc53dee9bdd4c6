package core

import (
	"testing"
	"time"
)

func TestParsePresenceStatus(t *testing.T) {
	for _, s := range []string{"active", "viewing", "inactive"} {
		got, err := ParsePresenceStatus(s)
		if err != nil {
			t.Fatalf("ParsePresenceStatus(%q): %v", s, err)
		}
		if string(got) != s {
			t.Fatalf("got %q, want %q", got, s)
		}
	}

	for _, s := range []string{"", "online", "ACTIVE"} {
		_, err := ParsePresenceStatus(s)
		if !IsCategory(err, ErrCatValidation) {
			t.Fatalf("ParsePresenceStatus(%q) error = %v, want validation", s, err)
		}
	}
}

func TestStaleCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 1, 11, 55, 0, 0, time.UTC)
	if got := StaleCutoff(now); !got.Equal(want) {
		t.Fatalf("StaleCutoff = %v, want %v", got, want)
	}
}
