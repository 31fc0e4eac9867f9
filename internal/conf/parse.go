package conf

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParsePeriod converts a human period string like "2 months" or "14 days"
// into a duration. Units are approximate: weeks are 7 days, months 30,
// years 365. Calendar awareness is deliberately out of scope.
func ParsePeriod(s string) (time.Duration, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid period %q, expected \"<count> <unit>\"", s)
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil || count < 0 {
		return 0, fmt.Errorf("invalid period count %q", fields[0])
	}

	var days int
	switch strings.TrimSuffix(fields[1], "s") {
	case "day":
		days = count
	case "week":
		days = count * 7
	case "month":
		days = count * 30
	case "year":
		days = count * 365
	default:
		return 0, fmt.Errorf("invalid period unit %q, expected days, weeks, months or years", fields[1])
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

// ParseClock parses a "HH:MM" time of day into hour and minute.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("invalid time of day %q, expected \"HH:MM\"", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// Clock is a time of day without a date.
type Clock struct {
	Hour   int
	Minute int
}

// String renders the clock back as "HH:MM".
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Next returns the next occurrence of the clock time strictly after now,
// in now's location.
func (c Clock) Next(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), c.Hour, c.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
