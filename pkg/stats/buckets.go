package stats

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the width of a time bucket.
type Granularity string

const (
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ErrUnknownGranularity is returned by ParseGranularity.
var ErrUnknownGranularity = fmt.Errorf("unknown granularity")

// ParseGranularity converts a user supplied string ("hour", "day", "week",
// "month", case-insensitive) into a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Hour, Day, Week, Month:
		return g, nil
	case "":
		return Day, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
}

// BucketStart truncates t to the start of the UTC calendar bucket that
// contains it. Weeks start on Sunday. Unknown granularities fall back to Day.
func BucketStart(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	loc := time.UTC
	switch g {
	case Hour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case Week:
		return time.Date(y, m, d-int(t.Weekday()), 0, 0, 0, 0, loc)
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// AddBuckets moves start forward by n buckets of granularity g.
func AddBuckets(start time.Time, g Granularity, n int) time.Time {
	switch g {
	case Hour:
		return start.Add(time.Duration(n) * time.Hour)
	case Week:
		return start.AddDate(0, 0, 7*n)
	case Month:
		return start.AddDate(0, n, 0)
	default:
		return start.AddDate(0, 0, n)
	}
}

// BucketKey renders the bucket containing t as a stable string key:
// "2006-01-02T15" for hours, "2006-01-02" for days and weeks (the week's
// Sunday), "2006-01" for months.
func BucketKey(t time.Time, g Granularity) string {
	start := BucketStart(t, g)
	switch g {
	case Hour:
		return start.Format("2006-01-02T15")
	case Month:
		return start.Format("2006-01")
	default:
		return start.Format("2006-01-02")
	}
}

// InRange reports whether t lies in the closed interval [start, end]. A zero
// start or end leaves that side unbounded.
func InRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}

// DaysBetween returns the (fractional) number of days from a to b.
func DaysBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / 24
}
