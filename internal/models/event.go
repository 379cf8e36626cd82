package models

import "time"

// DefaultTitle is used when the source event has no title.
const DefaultTitle = "No Title"

// RawEvent is an event as read from a local calendar source, before it is
// tagged with an owner and a session.
type RawEvent struct {
	ID           string    // Identifier assigned by the source calendar
	Title        string    // Summary or title of the event
	Start        time.Time // Start time of the event
	End          time.Time // End time of the event
	AllDay       bool      // True for date-only events
	CalendarName string    // Name of the calendar the event came from
}

// EventRecord represents a calendar event shared within a session.
// This is the canonical representation, independent of any calendar provider
// or remote store. Records are values: to change one, build a replacement
// with the same ID.
type EventRecord struct {
	ID           string    // Stable identifier derived from the source event
	Title        string    // Display title
	StartDate    time.Time // Start time of the event
	EndDate      time.Time // End time of the event, never before StartDate
	IsAllDay     bool      // All-day events are not part of free/busy computation
	CalendarName string    // Provenance label, informational only
	OwnerID      string    // User who uploaded the record
	SessionCode  string    // Shared room the record belongs to
}

// NewEventRecord tags a raw source event with its owner and session.
// It panics if ownerID, sessionCode or the raw event ID is empty: callers
// must always know who owns an event and where it is shared.
func NewEventRecord(raw RawEvent, ownerID, sessionCode string) EventRecord {
	if ownerID == "" {
		panic("models: NewEventRecord called without an owner ID")
	}
	if sessionCode == "" {
		panic("models: NewEventRecord called without a session code")
	}
	if raw.ID == "" {
		panic("models: NewEventRecord called with an empty event ID")
	}

	title := raw.Title
	if title == "" {
		title = DefaultTitle
	}
	end := raw.End
	if end.Before(raw.Start) {
		end = raw.Start
	}

	return EventRecord{
		ID:           raw.ID,
		Title:        title,
		StartDate:    raw.Start,
		EndDate:      end,
		IsAllDay:     raw.AllDay,
		CalendarName: raw.CalendarName,
		OwnerID:      ownerID,
		SessionCode:  sessionCode,
	}
}

// Valid reports whether the record carries the fields every persisted record
// must have.
func (r EventRecord) Valid() bool {
	return r.ID != "" && r.OwnerID != "" && r.SessionCode != "" && !r.EndDate.Before(r.StartDate)
}

// Overlaps reports whether the record's [StartDate, EndDate) span intersects
// [start, end).
func (r EventRecord) Overlaps(start, end time.Time) bool {
	return r.StartDate.Before(end) && r.EndDate.After(start)
}
