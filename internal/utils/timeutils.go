package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// FormatSlot renders an interval the way outbound replies reference it.
func FormatSlot(start, end time.Time) string {
	if start.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s to %s", start.Format(time.RFC1123), end.Format(time.Kitchen))
}

// WithinDays reports whether t falls inside the trailing window of days
// ending at now. A zero t never qualifies.
func WithinDays(t, now time.Time, days int) bool {
	if t.IsZero() || days <= 0 {
		return false
	}
	return now.Sub(t) <= time.Duration(days)*24*time.Hour
}
