package schedule

import (
	"fmt"
	"time"
)

// ParseTimeOfDay validates a 24h "HH:MM" string and returns its components.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// NextRotation computes the first instant at or after last+intervalDays that
// falls at timeOfDay in the given IANA zone, returned in UTC.
//
// The result is a pure function of its inputs: replaying the same
// (last, intervalDays, timeOfDay, timezone) always yields the same UTC
// instant, which is what makes audit history reproducible.
func NextRotation(last time.Time, intervalDays int, timeOfDay, timezone string) (time.Time, error) {
	if intervalDays < 1 {
		return time.Time{}, fmt.Errorf("interval days must be >= 1, got %d", intervalDays)
	}

	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}

	earliest := last.Add(time.Duration(intervalDays) * 24 * time.Hour)

	// First occurrence of timeOfDay in the zone at or after earliest.
	local := earliest.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if candidate.Before(earliest) {
		candidate = candidate.AddDate(0, 0, 1)
		// Re-anchor through time.Date so DST transitions resolve the same
		// way no matter which side of the gap the addition landed on.
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), hour, minute, 0, 0, loc)
	}

	return candidate.UTC(), nil
}
