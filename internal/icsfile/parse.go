// Package icsfile reads local events from iCalendar files exported by a
// desktop calendar. Recurring events are expanded into single instances.
package icsfile

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

const propCalendarName = "X-WR-CALNAME"

// parsedEvent is a VEVENT before recurrence expansion.
type parsedEvent struct {
	UID     string
	Summary string
	Start   time.Time
	End     time.Time
	AllDay  bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID of an overridden instance
}

// parseCalendar decodes an ICS payload. Events that cannot be read are
// returned as errors in skipped and do not stop the parse.
func parseCalendar(r io.Reader, loc *time.Location) (name string, events []parsedEvent, skipped []error, err error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to parse calendar: %w", err)
	}

	for _, p := range cal.CalendarProperties {
		if p.IANAToken == propCalendarName {
			name = p.Value
		}
	}

	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve, loc)
		if perr != nil {
			skipped = append(skipped, perr)
			continue
		}
		if ev == nil {
			continue
		}
		events = append(events, *ev)
	}
	return name, events, skipped, nil
}

// parseVEvent returns nil for cancelled events.
func parseVEvent(ve *ical.VEvent, loc *time.Location) (*parsedEvent, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, errors.New("missing UID")
	}
	out := &parsedEvent{UID: uidProp.Value}

	if p := ve.GetProperty("STATUS"); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return nil, nil
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return nil, fmt.Errorf("event %s has no DTSTART", out.UID)
	}
	start, allDay, err := parseTime(startProp.Value, startProp.ICalParameters, loc)
	if err != nil {
		return nil, fmt.Errorf("event %s: bad DTSTART: %w", out.UID, err)
	}
	out.Start, out.AllDay = start, allDay

	out.End = start
	if allDay {
		out.End = start.AddDate(0, 0, 1)
	}
	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
		if end, _, err := parseTime(endProp.Value, endProp.ICalParameters, loc); err == nil && !end.Before(start) {
			out.End = end
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := parseTime(part, p.ICalParameters, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, _, err := parseTime(p.Value, p.ICalParameters, loc); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

// parseTime parses a DATE or DATE-TIME value. Floating times and dates are
// read in loc unless the property names a TZID.
func parseTime(v string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if tzs := params["TZID"]; len(tzs) > 0 {
		if tz, err := time.LoadLocation(tzs[0]); err == nil {
			loc = tz
		}
	}

	isDate := !strings.Contains(v, "T")
	if vs := params["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}

	switch {
	case isDate:
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	}
}
