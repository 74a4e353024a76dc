package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorMatchesByCode(t *testing.T) {
	specific := &Error{Code: CodeExpiredCode, Message: "superseded by rotation"}
	wrapped := fmt.Errorf("submit scan: %w", specific)

	if !errors.Is(wrapped, ErrExpiredCode) {
		t.Fatalf("wrapped error should match sentinel by code")
	}
	if errors.Is(wrapped, ErrAlreadyUsed) {
		t.Fatalf("different codes must not match")
	}
	if got := CodeOf(wrapped); got != CodeExpiredCode {
		t.Fatalf("CodeOf = %q", got)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestSecondsRemainingRoundsUp(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tok := Token{ExpiresAt: now.Add(29*time.Second + 200*time.Millisecond)}

	cases := []struct {
		at   time.Time
		want int
	}{
		{now, 30},
		{now.Add(29 * time.Second), 1},
		{tok.ExpiresAt, 0},
		{tok.ExpiresAt.Add(time.Second), 0},
	}
	for _, c := range cases {
		if got := tok.SecondsRemaining(c.at); got != c.want {
			t.Errorf("SecondsRemaining(%v) = %d, want %d", c.at.Sub(now), got, c.want)
		}
	}
}

func TestSummaryNeverNegative(t *testing.T) {
	s := Session{Present: []string{"PES1", "PES2"}, RosterSize: 0}
	sum := s.Summary()
	if sum.Present != 2 || sum.Absent != 0 || sum.Total != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}
