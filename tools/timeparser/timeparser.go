package timeparser

import (
	"fmt"
	"time"
)

// DefaultRange is used for an absent or unknown range token
const DefaultRange = "1h"

var ranges = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

// RangeDuration maps a history range token to its length. Unknown tokens
// fall back to one hour.
func RangeDuration(token string) time.Duration {
	if d, ok := ranges[token]; ok {
		return d
	}
	return ranges[DefaultRange]
}

// WindowStart returns the start of the history window ending at now
func WindowStart(token string, now time.Time) time.Time {
	return now.Add(-RangeDuration(token))
}

// ParseReadingTimestamp parses a device timestamp in any accepted format.
// Formats without a zone are read as UTC.
func ParseReadingTimestamp(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,      // 2006-01-02T15:04:05.999999999Z07:00
		"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
		"02 15:04:05/01/2006", // DD HH:mm:ss/MM/YYYY
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// IsWithinTolerance checks if the reading timestamp is within tolerance of received time
func IsWithinTolerance(readingTime, receivedTime time.Time, tolerance time.Duration) bool {
	diff := readingTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
