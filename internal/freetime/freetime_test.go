package freetime

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"
	"time"

	"sharedcal/internal/models"
	"sharedcal/internal/reconcile"
)

var testDay = reconcile.Day{Year: 2026, Month: time.July, Day: 14}

func at(hour, minute int) time.Time {
	return time.Date(2026, time.July, 14, hour, minute, 0, 0, time.UTC)
}

func busy(start, end time.Time) models.EventRecord {
	return models.EventRecord{ID: start.String(), StartDate: start, EndDate: end, OwnerID: "A", SessionCode: "s"}
}

func format(intervals []Interval) string {
	return fmt.Sprint(intervals)
}

func TestFreeSlotsScenario(t *testing.T) {
	events := []models.EventRecord{
		busy(at(10, 30), at(11, 0)),
		busy(at(9, 0), at(10, 0)),
	}

	got := FreeSlots(at(12, 0), events, at(7, 0), at(22, 0))

	want := []Interval{
		{at(7, 0), at(9, 0)},
		{at(10, 0), at(10, 30)},
		{at(11, 0), at(22, 0)},
	}
	if format(got) != format(want) {
		t.Fatalf("FreeSlots = %v, want %v", got, want)
	}
}

func TestFreeSlotsNoBusy(t *testing.T) {
	got := FreeSlots(at(0, 0), nil, at(7, 0), at(22, 0))
	if len(got) != 1 || !got[0].Start.Equal(at(7, 0)) || !got[0].End.Equal(at(22, 0)) {
		t.Fatalf("expected the whole window, got %v", got)
	}
}

func TestFreeSlotsDegenerateWindow(t *testing.T) {
	if got := FreeSlots(at(0, 0), nil, at(22, 0), at(7, 0)); got != nil {
		t.Errorf("expected nil for inverted window, got %v", got)
	}
	if got := FreeSlots(at(0, 0), nil, at(9, 0), at(9, 0)); got != nil {
		t.Errorf("expected nil for empty window, got %v", got)
	}
}

func TestFreeSlotsIgnoresAllDayAndOtherDays(t *testing.T) {
	allDay := busy(at(0, 0), at(24, 0))
	allDay.IsAllDay = true
	tomorrow := busy(at(33, 0), at(34, 0))

	got := FreeSlots(at(0, 0), []models.EventRecord{allDay, tomorrow}, at(7, 0), at(22, 0))
	if len(got) != 1 || got[0].Duration() != 15*time.Hour {
		t.Fatalf("expected whole window free, got %v", got)
	}
}

func TestFreeSlotsOverlappingAndOutsideWindow(t *testing.T) {
	events := []models.EventRecord{
		busy(at(6, 0), at(8, 0)),     // starts before the window
		busy(at(9, 0), at(12, 0)),    // contains the next one
		busy(at(10, 0), at(11, 0)),
		busy(at(11, 30), at(12, 30)), // overlaps the tail of 09:00-12:00
		busy(at(21, 30), at(23, 0)),  // runs past the window
	}

	got := FreeSlots(at(0, 0), events, at(7, 0), at(22, 0))
	want := []Interval{
		{at(8, 0), at(9, 0)},
		{at(12, 30), at(21, 30)},
	}
	if format(got) != format(want) {
		t.Fatalf("FreeSlots = %v, want %v", got, want)
	}
}

func TestFreeSlotsEventAfterWindow(t *testing.T) {
	got := FreeSlots(at(0, 0), []models.EventRecord{busy(at(22, 30), at(23, 0))}, at(7, 0), at(22, 0))
	if len(got) != 1 || !got[0].End.Equal(at(22, 0)) {
		t.Fatalf("free time must not extend past the window, got %v", got)
	}
}

func TestFreeSlotsTileWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	windowStart, windowEnd := at(7, 0), at(22, 0)

	for iter := 0; iter < 200; iter++ {
		var events []models.EventRecord
		for n := rng.Intn(8); n > 0; n-- {
			start := at(0, 0).Add(time.Duration(rng.Intn(24*4)) * 15 * time.Minute)
			end := start.Add(time.Duration(rng.Intn(16)) * 15 * time.Minute)
			events = append(events, busy(start, end))
		}

		free := FreeSlots(at(0, 0), events, windowStart, windowEnd)
		merged := MergeBusy(at(0, 0), events, windowStart, windowEnd)

		tiles := append(append([]Interval{}, free...), merged...)
		slices.SortFunc(tiles, func(a, b Interval) int { return a.Start.Compare(b.Start) })

		cursor := windowStart
		for _, tile := range tiles {
			if !tile.Start.Equal(cursor) {
				t.Fatalf("iteration %d: gap or overlap at %v (tiles %v)", iter, cursor, tiles)
			}
			if !tile.Start.Before(tile.End) {
				t.Fatalf("iteration %d: empty tile %v", iter, tile)
			}
			cursor = tile.End
		}
		if !cursor.Equal(windowEnd) {
			t.Fatalf("iteration %d: tiles end at %v, want %v", iter, cursor, windowEnd)
		}
	}
}

func TestWindow(t *testing.T) {
	start, err := ParseClock("07:00")
	if err != nil {
		t.Fatal(err)
	}
	end, err := ParseClock("22:00")
	if err != nil {
		t.Fatal(err)
	}

	ws, we := Window(testDay, time.UTC, start, end)
	if !ws.Equal(at(7, 0)) || !we.Equal(at(22, 0)) {
		t.Fatalf("unexpected window %v - %v", ws, we)
	}

	if c, err := ParseClock("24:00"); err != nil || c != (ClockTime{Hour: 24}) {
		t.Errorf("ParseClock(24:00) = %v, %v", c, err)
	}
	for _, bad := range []string{"7am", "25:00", "24:30", "12:60", "07:00pm", "10:00 ", "9:30:00"} {
		if _, err := ParseClock(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
