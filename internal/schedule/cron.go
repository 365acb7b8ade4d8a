package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// minCustomInterval is the tightest cadence accepted for custom product
// and store schedules.
const minCustomInterval = 24 * time.Hour

// Cron is a parsed 5-field cron expression:
// "minute hour day-of-month month day-of-week", evaluated in UTC.
// Fields accept wildcards, lists "a,b", ranges "a-b" and steps "*/n" or
// "a-b/n". Day-of-week runs Sunday=0 (7 also accepted for Sunday).
// When both day fields are restricted a time must satisfy both.
type Cron struct {
	expr       string
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

type cronField struct {
	wildcard bool
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return true
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

type fieldSpec struct {
	name     string
	min, max int
}

var cronSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// ParseCron parses a 5-field cron expression.
func ParseCron(expr string) (Cron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Cron{}, fmt.Errorf("schedule: cron expression must have 5 fields, got %d", len(fields))
	}

	var parsed [5]cronField
	for i, field := range fields {
		f, err := parseCronField(field, cronSpecs[i])
		if err != nil {
			return Cron{}, fmt.Errorf("schedule: parsing %s field: %w", cronSpecs[i].name, err)
		}
		parsed[i] = f
	}

	return Cron{
		expr:       strings.Join(fields, " "),
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// parseCronField parses one cron field (e.g. "0", "*", "1,15", "1-5",
// "*/10", "10-50/5").
func parseCronField(field string, spec fieldSpec) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	var values []int
	for _, part := range strings.Split(field, ",") {
		vals, err := parseCronPart(strings.TrimSpace(part), spec)
		if err != nil {
			return cronField{}, err
		}
		values = append(values, vals...)
	}
	if len(values) == 0 {
		return cronField{}, fmt.Errorf("empty field")
	}
	return cronField{values: values}, nil
}

// parseCronPart expands one comma-separated element into its values.
func parseCronPart(part string, spec fieldSpec) ([]int, error) {
	if part == "" {
		return nil, fmt.Errorf("empty value")
	}

	base, stepStr, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		s, err := strconv.Atoi(stepStr)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid step %q", stepStr)
		}
		step = s
	}

	lo, hi := spec.min, spec.max
	switch {
	case base == "*":
		// full range, stepped below
	case strings.Contains(base, "-"):
		loStr, hiStr, _ := strings.Cut(base, "-")
		var err error
		if lo, err = parseCronValue(loStr, spec); err != nil {
			return nil, err
		}
		if hi, err = parseCronValue(hiStr, spec); err != nil {
			return nil, err
		}
		if lo > hi {
			return nil, fmt.Errorf("range %q is inverted", base)
		}
	default:
		v, err := parseCronValue(base, spec)
		if err != nil {
			return nil, err
		}
		if !hasStep {
			return []int{normalizeDOW(v, spec)}, nil
		}
		// "a/n" steps from a to the field maximum.
		lo = v
	}

	values := make([]int, 0, (hi-lo)/step+1)
	for v := lo; v <= hi; v += step {
		values = append(values, normalizeDOW(v, spec))
	}
	return values, nil
}

func parseCronValue(s string, spec fieldSpec) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	if v < spec.min || v > spec.max {
		return 0, fmt.Errorf("value %d out of range %d-%d", v, spec.min, spec.max)
	}
	return v, nil
}

// normalizeDOW folds day-of-week 7 onto 0 so both mean Sunday.
func normalizeDOW(v int, spec fieldSpec) int {
	if spec.name == "day-of-week" && v == 7 {
		return 0
	}
	return v
}

// String returns the canonical expression text.
func (c Cron) String() string { return c.expr }

// Matches reports whether t satisfies all five fields.
func (c Cron) Matches(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// Next returns the first matching time strictly after the given one.
// The search walks minute boundaries and gives up after a year, which
// catches expressions that can never fire (e.g. February 30th).
func (c Cron) Next(after time.Time) (time.Time, error) {
	candidate := after.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if c.Matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("schedule: no matching time within a year for %q", c.expr)
}

// ValidateCustom parses a user-supplied cron expression and rejects
// cadences tighter than one run per day, measured over the next few
// fire times starting at from.
func ValidateCustom(expr string, from time.Time) (Cron, error) {
	c, err := ParseCron(expr)
	if err != nil {
		return Cron{}, err
	}

	prev, err := c.Next(from)
	if err != nil {
		return Cron{}, err
	}
	for i := 0; i < 4; i++ {
		next, err := c.Next(prev)
		if err != nil {
			return Cron{}, err
		}
		if gap := next.Sub(prev); gap < minCustomInterval {
			return Cron{}, fmt.Errorf("schedule: %q fires every %s, minimum interval is %s", expr, gap, minCustomInterval)
		}
		prev = next
	}
	return c, nil
}
