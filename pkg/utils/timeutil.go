package utils

import (
	"fmt"
	"time"
)

// DateLayout is the CLI date format.
const DateLayout = "2006/01/02"

// ParseDate parses a "YYYY/MM/DD" date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY/MM/DD): %w", s, err)
	}
	return t.UTC(), nil
}

// FormatDate formats a time as "YYYY/MM/DD" in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Midnight truncates a time to UTC midnight of the same day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsMidnight reports whether t falls exactly on a UTC day boundary.
func IsMidnight(t time.Time) bool {
	return t.UTC().Equal(Midnight(t))
}
