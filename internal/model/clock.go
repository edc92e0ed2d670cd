package model

import (
	"fmt"
	"time"
)

// ClockRange is a daily window in local wall-clock time, "HH:MM" to "HH:MM".
// A range whose end is before its start wraps past midnight (22:00-06:00).
// An empty range means the whole day.
type ClockRange struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

func (c ClockRange) IsZero() bool { return c.Start == "" && c.End == "" }

func (c ClockRange) String() string { return c.Start + "-" + c.End }

// Bounds returns the start and end offsets from midnight.
func (c ClockRange) Bounds() (time.Duration, time.Duration, error) {
	start, err := parseClock(c.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(c.End)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// Contains reports whether t's wall-clock time lies within the range.
// Malformed ranges contain nothing.
func (c ClockRange) Contains(t time.Time) bool {
	if c.IsZero() {
		return true
	}
	start, end, err := c.Bounds()
	if err != nil {
		return false
	}
	tod := sinceMidnight(t)
	if start <= end {
		return tod >= start && tod < end
	}
	return tod >= start || tod < end
}

// OpenAt returns the first moment at or after t when the range opens, on t's day
// or the following one.
func (c ClockRange) OpenAt(t time.Time) time.Time {
	if c.IsZero() || c.Contains(t) {
		return t
	}
	start, _, err := c.Bounds()
	if err != nil {
		return t
	}
	midnight := t.Add(-sinceMidnight(t))
	open := midnight.Add(start)
	if open.Before(t) {
		open = open.Add(24 * time.Hour)
	}
	return open
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

func parseClock(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 {
		return 0, fmt.Errorf("parse clock %q: out of range", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
