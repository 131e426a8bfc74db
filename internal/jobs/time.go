package jobs

import (
	"strings"
	"time"
)

// timeLayouts are tried in order. The backend emits naive ISO-8601 timestamps
// for some records; those are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTime parses a backend timestamp
func ParseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// UnixSeconds converts fractional epoch seconds to a UTC time
func UnixSeconds(secs float64) time.Time {
	return time.Unix(0, int64(secs*float64(time.Second))).UTC()
}
