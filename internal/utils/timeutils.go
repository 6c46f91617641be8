package utils

import "time"

// FormatUTC renders a timestamp in the canonical form used by cycle
// summaries. Digest output must be byte-stable, so everything funnels
// through one format.
func FormatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// WithinWindow reports whether ts falls inside the trailing window ending
// at now.
func WithinWindow(ts, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	return now.Sub(ts) <= window
}
