package utils

import (
	"fmt"
	"time"
)

func FormatDuration(duration time.Duration) string {
	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60
	seconds := int(duration.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// FormatTimeISO renders a timestamp the way browser clients produce them:
// RFC 3339 with millisecond precision. This is the wire format for message
// timestamps on broadcasts.
func FormatTimeISO(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseTimeISO accepts RFC 3339 with or without fractional seconds.
func ParseTimeISO(timeStr string) (time.Time, error) {
	return time.Parse(time.RFC3339, timeStr)
}
