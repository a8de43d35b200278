package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSince resolves a --since expression relative to now. It accepts
// durations with an m, h, d or w unit ("30m", "2d"), "today", "yesterday"
// and RFC 3339 timestamps.
func ParseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	switch strings.ToLower(value) {
	case "today":
		return startOfDay(now), nil
	case "yesterday":
		return startOfDay(now).AddDate(0, 0, -1), nil
	}

	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}

	unit := strings.ToLower(value[len(value)-1:])
	amount, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || amount <= 0 {
		return time.Time{}, fmt.Errorf("invalid time expression %q", value)
	}

	var step time.Duration
	switch unit {
	case "m":
		step = time.Minute
	case "h":
		step = time.Hour
	case "d":
		step = 24 * time.Hour
	case "w":
		step = 7 * 24 * time.Hour
	default:
		return time.Time{}, fmt.Errorf("invalid time unit %q in %q", unit, value)
	}
	return now.Add(-time.Duration(amount) * step), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
