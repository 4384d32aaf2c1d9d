package utils

import (
	"fmt"
	"time"
)

// FormatUnix renders epoch seconds as an RFC 3339 UTC timestamp.
func FormatUnix(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

// ValidUntil is base plus one read interval, or "" when either is unset.
func ValidUntil(base int64, interval time.Duration) string {
	if base <= 0 || interval <= 0 {
		return ""
	}
	return time.Unix(base, 0).Add(interval).UTC().Format(time.RFC3339)
}

// DurationISO8601 formats whole seconds as an ISO8601 duration: 75 -> "PT1M15S",
// -30 -> "-PT30S", 0 -> "PT0S".
func DurationISO8601(seconds int64) string {
	sign := ""
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	h, m, s := seconds/3600, seconds%3600/60, seconds%60
	out := sign + "PT"
	if h > 0 {
		out += fmt.Sprintf("%dH", h)
	}
	if m > 0 {
		out += fmt.Sprintf("%dM", m)
	}
	if s > 0 || (h == 0 && m == 0) {
		out += fmt.Sprintf("%dS", s)
	}
	return out
}
