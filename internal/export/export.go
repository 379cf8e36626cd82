// Package export writes a session's merged events as an iCalendar file.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"sharedcal/internal/models"
	"sharedcal/internal/remote"
)

const productID = "-//sharedcal//export//EN"

// WriteICS encodes records as one VCALENDAR. Each event's UID is its
// document key, so exports of the same session are stable across runs.
// Events owned by someone other than ownerID are marked with a category.
// All-day events are written as dates in loc.
func WriteICS(w io.Writer, records []models.EventRecord, ownerID string, loc *time.Location, now time.Time) error {
	if loc == nil {
		loc = time.Local
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, r := range records {
		ev := ical.NewComponent(ical.CompEvent)
		ev.Props.SetText(ical.PropUID, remote.DocumentKey(r))
		ev.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
		ev.Props.SetText(ical.PropSummary, r.Title)

		if r.IsAllDay {
			end := r.EndDate
			if !end.After(r.StartDate) {
				end = r.StartDate.AddDate(0, 0, 1)
			}
			setDate(ev, ical.PropDateTimeStart, r.StartDate.In(loc))
			setDate(ev, ical.PropDateTimeEnd, end.In(loc))
		} else {
			ev.Props.SetDateTime(ical.PropDateTimeStart, r.StartDate.UTC())
			ev.Props.SetDateTime(ical.PropDateTimeEnd, r.EndDate.UTC())
		}

		category := "Mine"
		if r.OwnerID != ownerID {
			category = "Partner"
		}
		ev.Props.SetText(ical.PropCategories, category)
		if r.CalendarName != "" {
			ev.Props.SetText(ical.PropDescription, "From "+r.CalendarName)
		}

		cal.Children = append(cal.Children, ev)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

func setDate(comp *ical.Component, name string, t time.Time) {
	prop := ical.NewProp(name)
	prop.SetDate(t)
	comp.Props.Set(prop)
}
