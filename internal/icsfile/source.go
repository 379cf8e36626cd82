package icsfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"sharedcal/internal/models"
)

const defaultMaxOccurrences = 5000

// Source reads events from ICS files. The calendar IDs passed to FetchEvents
// are file paths.
type Source struct {
	logger         *slog.Logger
	loc            *time.Location
	maxOccurrences int
}

// New returns a Source that reads floating times and dates in loc.
func New(logger *slog.Logger, loc *time.Location) *Source {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Source{logger: logger, loc: loc, maxOccurrences: defaultMaxOccurrences}
}

// FetchEvents returns the events of each file that overlap [start, end).
// A file that cannot be opened for lack of permission fails the whole fetch
// with models.ErrSourceAccessDenied.
func (s *Source) FetchEvents(ctx context.Context, paths []string, start, end time.Time) ([]models.RawEvent, error) {
	var all []models.RawEvent
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		events, err := s.readFile(path, start, end)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Read events from calendar file", "count", len(events), "path", path)
		all = append(all, events...)
	}
	return all, nil
}

func (s *Source) readFile(path string, start, end time.Time) ([]models.RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", models.ErrSourceAccessDenied, err)
		}
		return nil, fmt.Errorf("failed to open calendar file: %w", err)
	}
	defer f.Close()

	name, parsed, skipped, err := parseCalendar(f, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, perr := range skipped {
		s.logger.Warn("Skipping unreadable event", "path", path, "error", perr)
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return s.expand(parsed, name, start, end), nil
}

// expand turns parsed events into single instances inside [start, end).
// Overrides replace the instance whose start matches their RECURRENCE-ID.
func (s *Source) expand(events []parsedEvent, calendarName string, start, end time.Time) []models.RawEvent {
	overrides := make(map[string][]parsedEvent)
	var bases []parsedEvent
	for _, ev := range events {
		if ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		bases = append(bases, ev)
	}

	var out []models.RawEvent
	for _, ev := range bases {
		if ev.RawRRule == "" {
			if overlaps(ev.Start, ev.End, start, end) {
				out = append(out, toRaw(ev, ev.UID, ev.Start, ev.End, calendarName))
			}
			continue
		}

		for _, occ := range s.occurrences(ev, start, end) {
			id := ev.UID + "/" + occ.UTC().Format("20060102T150405Z")
			occEnd := occ.Add(ev.End.Sub(ev.Start))
			inst := ev
			if o, ok := findOverride(overrides[ev.UID], occ); ok {
				inst, occ, occEnd = o, o.Start, o.End
			}
			if overlaps(occ, occEnd, start, end) {
				out = append(out, toRaw(inst, id, occ, occEnd, calendarName))
			}
		}
	}
	return out
}

func (s *Source) occurrences(ev parsedEvent, start, end time.Time) []time.Time {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		s.logger.Warn("Failed to parse RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "error", err)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Instances that started before the window may still run into it.
	from := start.Add(-ev.End.Sub(ev.Start)).In(ev.Start.Location())
	times := set.Between(from, end.In(ev.Start.Location()), true)
	if len(times) > s.maxOccurrences {
		s.logger.Warn("Truncated recurring event", "uid", ev.UID, "cap", s.maxOccurrences)
		times = times[:s.maxOccurrences]
	}
	return times
}

func findOverride(overrides []parsedEvent, occ time.Time) (parsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence.Equal(occ) {
			return o, true
		}
	}
	return parsedEvent{}, false
}

func toRaw(ev parsedEvent, id string, start, end time.Time, calendarName string) models.RawEvent {
	return models.RawEvent{
		ID:           id,
		Title:        ev.Summary,
		Start:        start,
		End:          end,
		AllDay:       ev.AllDay,
		CalendarName: calendarName,
	}
}

// overlaps reports whether [aStart, aEnd) intersects [bStart, bEnd). A
// zero-length event overlaps when its instant falls inside the range.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
