// Package reconcile splits a session's records by owner and arranges them
// into a per-day schedule.
package reconcile

import (
	"iter"
	"slices"
	"sort"
	"time"

	"sharedcal/internal/models"
)

// Owned holds a session's records split by ownership.
type Owned struct {
	Mine   []models.EventRecord
	Others []models.EventRecord
}

// Partition separates records owned by ownerID from everyone else's. Every
// other owner lands in Others; both halves are sorted by start time.
func Partition(records []models.EventRecord, ownerID string) Owned {
	var p Owned
	for _, r := range records {
		if r.OwnerID == ownerID {
			p.Mine = append(p.Mine, r)
		} else {
			p.Others = append(p.Others, r)
		}
	}
	SortByStart(p.Mine)
	SortByStart(p.Others)
	return p
}

// SortByStart orders records by start time, then id, then owner.
func SortByStart(records []models.EventRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.Before(b.StartDate)
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.OwnerID < b.OwnerID
	})
}

// DayEvents are the records that start on one day.
type DayEvents struct {
	Mine   []models.EventRecord
	Others []models.EventRecord
}

// Busy returns both owners' records for the day in start order.
func (d DayEvents) Busy() []models.EventRecord {
	all := make([]models.EventRecord, 0, len(d.Mine)+len(d.Others))
	all = append(all, d.Mine...)
	all = append(all, d.Others...)
	SortByStart(all)
	return all
}

// Schedule is a merged view of two owned record sets keyed by start day.
type Schedule struct {
	loc   *time.Location
	days  []Day
	byDay map[Day]*DayEvents
}

// GroupByDay buckets mine and others by the day each record starts on in
// loc. Events crossing midnight stay on their start day; days without events
// are not present.
func GroupByDay(mine, others []models.EventRecord, loc *time.Location) *Schedule {
	if loc == nil {
		loc = time.Local
	}
	s := &Schedule{loc: loc, byDay: make(map[Day]*DayEvents)}

	bucket := func(r models.EventRecord) *DayEvents {
		d := DayOf(r.StartDate, loc)
		ev, ok := s.byDay[d]
		if !ok {
			ev = &DayEvents{}
			s.byDay[d] = ev
			s.days = append(s.days, d)
		}
		return ev
	}
	for _, r := range mine {
		ev := bucket(r)
		ev.Mine = append(ev.Mine, r)
	}
	for _, r := range others {
		ev := bucket(r)
		ev.Others = append(ev.Others, r)
	}

	slices.SortFunc(s.days, Day.Compare)
	for _, ev := range s.byDay {
		SortByStart(ev.Mine)
		SortByStart(ev.Others)
	}
	return s
}

// Location returns the time zone days are computed in.
func (s *Schedule) Location() *time.Location {
	return s.loc
}

// Len returns the number of days with at least one event.
func (s *Schedule) Len() int {
	return len(s.days)
}

// Get returns the events starting on day.
func (s *Schedule) Get(day Day) (DayEvents, bool) {
	ev, ok := s.byDay[day]
	if !ok {
		return DayEvents{}, false
	}
	return *ev, true
}

// Days yields every day with events in ascending order. The sequence can be
// ranged over any number of times.
func (s *Schedule) Days() iter.Seq[Day] {
	return func(yield func(Day) bool) {
		for _, d := range s.days {
			if !yield(d) {
				return
			}
		}
	}
}

// All yields each day with its events in ascending order.
func (s *Schedule) All() iter.Seq2[Day, DayEvents] {
	return func(yield func(Day, DayEvents) bool) {
		for _, d := range s.days {
			if !yield(d, *s.byDay[d]) {
				return
			}
		}
	}
}
