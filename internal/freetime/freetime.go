// Package freetime derives free intervals within a working window from a
// day's busy events.
package freetime

import (
	"fmt"
	"slices"
	"time"

	"sharedcal/internal/models"
	"sharedcal/internal/reconcile"
)

// Interval is the half-open span [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) String() string {
	return fmt.Sprintf("%s-%s", i.Start.Format("15:04"), i.End.Format("15:04"))
}

// FreeSlots returns the gaps in [windowStart, windowEnd) not covered by any
// timed event in busy that overlaps the day of date. All-day events never
// count as busy. Overlapping events are merged by the sweep itself.
func FreeSlots(date time.Time, busy []models.EventRecord, windowStart, windowEnd time.Time) []Interval {
	if !windowStart.Before(windowEnd) {
		return nil
	}

	var free []Interval
	cursor := windowStart
	for _, b := range busyIntervals(date, busy) {
		if !cursor.Before(windowEnd) {
			break
		}
		if b.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: minTime(b.Start, windowEnd)})
		}
		cursor = maxTime(cursor, b.End)
	}
	if cursor.Before(windowEnd) {
		free = append(free, Interval{Start: cursor, End: windowEnd})
	}
	return free
}

// MergeBusy returns the union of the timed events overlapping the day of
// date, clipped to [windowStart, windowEnd). Together with FreeSlots for the
// same arguments it tiles the window exactly.
func MergeBusy(date time.Time, busy []models.EventRecord, windowStart, windowEnd time.Time) []Interval {
	if !windowStart.Before(windowEnd) {
		return nil
	}

	var merged []Interval
	for _, b := range busyIntervals(date, busy) {
		start := maxTime(b.Start, windowStart)
		end := minTime(b.End, windowEnd)
		if !start.Before(end) {
			continue
		}
		if n := len(merged); n > 0 && !start.After(merged[n-1].End) {
			merged[n-1].End = maxTime(merged[n-1].End, end)
			continue
		}
		merged = append(merged, Interval{Start: start, End: end})
	}
	return merged
}

// busyIntervals selects timed events overlapping the day of date, in start
// order.
func busyIntervals(date time.Time, events []models.EventRecord) []Interval {
	day := reconcile.DayOf(date, date.Location())
	dayStart, dayEnd := day.Start(date.Location()), day.End(date.Location())

	intervals := make([]Interval, 0, len(events))
	for _, e := range events {
		if e.IsAllDay || !e.StartDate.Before(e.EndDate) || !e.Overlaps(dayStart, dayEnd) {
			continue
		}
		intervals = append(intervals, Interval{Start: e.StartDate, End: e.EndDate})
	}
	slices.SortStableFunc(intervals, func(a, b Interval) int {
		return a.Start.Compare(b.Start)
	})
	return intervals
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
