package database

import (
	"time"
)

// TimestampLayout is the layout used for post timestamps in the ledger and
// in the dataset log.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}

// FromUnix converts a created_utc value (seconds, possibly fractional) to a UTC time.
func FromUnix(seconds float64) time.Time {
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}
