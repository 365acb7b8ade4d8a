package schedule

import (
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string) Cron {
	t.Helper()
	c, err := ParseCron(expr)
	if err != nil {
		t.Fatalf("ParseCron(%q): %v", expr, err)
	}
	return c
}

func TestParseCronRejectsBadExpressions(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"", "must have 5 fields"},
		{"0 6 * *", "must have 5 fields"},
		{"0 6 * * * *", "must have 5 fields"},
		{"60 * * * *", "out of range"},
		{"* 24 * * *", "out of range"},
		{"* * 0 * *", "out of range"},
		{"* * * 13 *", "out of range"},
		{"* * * * 8", "out of range"},
		{"*/0 * * * *", "invalid step"},
		{"1-5/x * * * *", "invalid step"},
		{"5-1 * * * *", "inverted"},
		{"a * * * *", "invalid value"},
		{", * * * *", "empty value"},
	}
	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if err == nil {
			t.Errorf("ParseCron(%q) accepted, want error containing %q", tt.expr, tt.want)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("ParseCron(%q) error = %v, want containing %q", tt.expr, err, tt.want)
		}
	}
}

func TestCronMatches(t *testing.T) {
	// 2026-03-04 06:30 UTC is a Wednesday.
	at := time.Date(2026, 3, 4, 6, 30, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want bool
	}{
		{"* * * * *", true},
		{"30 6 * * *", true},
		{"30 6 4 3 *", true},
		{"30 6 * * 3", true},
		{"30 6 * * 0", false},
		{"0 6 * * *", false},
		{"*/15 * * * *", true},  // 30 is a multiple of 15
		{"*/7 * * * *", false},  // 0,7,14,21,28,35... skips 30
		{"30 0-6 * * *", true},
		{"30 7-23 * * *", false},
		{"30 6 1,4,15 * *", true},
		{"30 6 1,15 * *", false},
		{"30 6 * * 1-5", true},  // weekday
		{"30 6 * * 6,0", false}, // weekend only
		{"0-59/10 * * * *", true},
	}
	for _, tt := range tests {
		if got := mustParse(t, tt.expr).Matches(at); got != tt.want {
			t.Errorf("%q matches %v = %v, want %v", tt.expr, at, got, tt.want)
		}
	}
}

func TestCronNext(t *testing.T) {
	from := time.Date(2026, 3, 4, 6, 30, 0, 0, time.UTC) // Wednesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 4, 6, 31, 0, 0, time.UTC)},
		{"0 6 * * *", time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)},
		{"45 6 * * *", time.Date(2026, 3, 4, 6, 45, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)},  // next Sunday
		{"0 0 * * 7", time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)},  // 7 is Sunday too
		{"0 3 1 * *", time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)},  // monthly
		{"*/20 * * * *", time.Date(2026, 3, 4, 6, 40, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := mustParse(t, tt.expr).Next(from)
		if err != nil {
			t.Errorf("%q Next: %v", tt.expr, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("%q Next(%v) = %v, want %v", tt.expr, from, got, tt.want)
		}
	}
}

func TestCronNextExclusive(t *testing.T) {
	// Next must return a time strictly after the reference even when the
	// reference itself matches.
	at := time.Date(2026, 3, 4, 6, 0, 0, 0, time.UTC)
	c := mustParse(t, "0 6 * * *")
	if !c.Matches(at) {
		t.Fatal("reference time should match")
	}
	next, err := c.Next(at)
	if err != nil {
		t.Fatal(err)
	}
	if want := at.Add(24 * time.Hour); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestCronNextImpossible(t *testing.T) {
	c := mustParse(t, "0 0 30 2 *") // February 30th
	if _, err := c.Next(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)); err == nil {
		t.Fatal("expected no-match error for Feb 30")
	}
}

func TestValidateCustom(t *testing.T) {
	from := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	for _, expr := range []string{"0 6 * * *", "0 6 * * 0", "0 3 1 * *", "30 18 * * 1-5"} {
		if _, err := ValidateCustom(expr, from); err != nil {
			t.Errorf("ValidateCustom(%q) rejected daily-or-coarser cadence: %v", expr, err)
		}
	}

	for _, expr := range []string{"* * * * *", "0 */6 * * *", "0 6,18 * * *", "*/30 * * * *"} {
		if _, err := ValidateCustom(expr, from); err == nil {
			t.Errorf("ValidateCustom(%q) accepted sub-daily cadence", expr)
		}
	}
}
