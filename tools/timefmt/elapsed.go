package timefmt

import (
	"fmt"
	"time"
)

// FormatElapsed renders the age of an ISO-8601 timestamp for friend lists.
// Unparseable or empty input renders as "Unknown".
func FormatElapsed(timestamp string, now time.Time) string {
	if timestamp == "" {
		return "Unknown"
	}
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return "Unknown"
	}
	return FormatDuration(now.Sub(ts))
}

func FormatDuration(d time.Duration) string {
	mins := int(d / time.Minute)
	switch {
	case mins < 1:
		return "Just now"
	case mins < 60:
		return fmt.Sprintf("%d min ago", mins)
	}
	hours := mins / 60
	if hours < 24 {
		return fmt.Sprintf("%d hr ago", hours)
	}
	days := hours / 24
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}
