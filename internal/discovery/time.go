package discovery

import "time"

// TimeLayout is the fixed-width UTC layout used for stored timestamps, so
// that string comparison orders them chronologically.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// timeNow is a package-level variable for testability.
// Tests can replace this to control time in assertions.
var timeNow = time.Now

// Now returns the current UTC time as stored on sessions and signals.
func Now() string {
	return FormatTime(timeNow())
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
