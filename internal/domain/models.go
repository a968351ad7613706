// Package domain provides core domain models and types shared across modules.
package domain

import (
	"fmt"
	"time"
)

// Side represents the direction of a trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is a known value
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the opposing trade side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Granularity is the snapshot sampling period
type Granularity string

const (
	GranularityDaily   Granularity = "DAILY"
	GranularityWeekly  Granularity = "WEEKLY"
	GranularityMonthly Granularity = "MONTHLY"
)

// Valid reports whether the granularity is a known value
func (g Granularity) Valid() bool {
	switch g {
	case GranularityDaily, GranularityWeekly, GranularityMonthly:
		return true
	}
	return false
}

// DateLayout is the canonical format for civil dates (snapshot dates,
// trade dates). Instants (created_at etc.) are stored as Unix seconds.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date string as midnight UTC
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// FormatDate renders a time as a YYYY-MM-DD date string in UTC
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Today returns the current UTC date string
func Today() string {
	return FormatDate(time.Now())
}

// AddDays shifts a date string by n calendar days
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return FormatDate(t.AddDate(0, 0, n)), nil
}

// WindowStart returns the start date of the return window for a granularity,
// relative to the given date: previous week for WEEKLY, first of the month
// for MONTHLY, January 1st for the YTD window.
func WindowStart(date string, g Granularity) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	switch g {
	case GranularityWeekly:
		return FormatDate(t.AddDate(0, 0, -7)), nil
	case GranularityMonthly:
		return FormatDate(time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)), nil
	default:
		return FormatDate(t.AddDate(0, 0, -1)), nil
	}
}

// YearStart returns January 1st of the date's year
func YearStart(date string) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return FormatDate(time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)), nil
}
