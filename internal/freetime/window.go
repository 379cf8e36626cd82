package freetime

import (
	"fmt"
	"time"

	"sharedcal/internal/reconcile"
)

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock parses an HH:MM time of day. "24:00" is accepted as the end of
// the day.
func ParseClock(s string) (ClockTime, error) {
	if s == "24:00" {
		return ClockTime{Hour: 24}, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the instant of c on day in loc.
func (c ClockTime) On(day reconcile.Day, loc *time.Location) time.Time {
	return time.Date(day.Year, day.Month, day.Day, c.Hour, c.Minute, 0, 0, loc)
}

// Window returns the working window [start, end) on day in loc.
func Window(day reconcile.Day, loc *time.Location, start, end ClockTime) (time.Time, time.Time) {
	return start.On(day, loc), end.On(day, loc)
}
