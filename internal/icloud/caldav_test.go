package icloud

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"sharedcal/internal/models"
	"sharedcal/internal/remote"
)

func TestICalRoundTrip(t *testing.T) {
	start := time.Date(2026, 4, 20, 18, 0, 0, 0, time.UTC)
	rec := models.EventRecord{
		ID:           "evt-1",
		Title:        "Dinner; with friends, downtown",
		StartDate:    start,
		EndDate:      start.Add(2 * time.Hour),
		CalendarName: "Personal",
		OwnerID:      "owner-a",
		SessionCode:  "room",
	}
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	cal, err := toICal(remote.Collection, "key-1", remote.EncodeRecord(rec), now)
	if err != nil {
		t.Fatalf("toICal: %v", err)
	}

	// Go through the wire format to make sure escaping survives.
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := ical.NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	doc, stamp, err := fromICal(decoded, remote.Collection)
	if err != nil {
		t.Fatalf("fromICal: %v", err)
	}
	if !stamp.Equal(now) {
		t.Errorf("expected stamp %v, got %v", now, stamp)
	}
	got, err := remote.DecodeRecord(doc)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if got.Title != rec.Title || got.OwnerID != rec.OwnerID || !got.EndDate.Equal(rec.EndDate) {
		t.Errorf("got %+v, want %+v", got, rec)
	}

	ev := decoded.Events()[0]
	if summary, _ := ev.Props.Text(ical.PropSummary); summary != rec.Title {
		t.Errorf("expected summary %q, got %q", rec.Title, summary)
	}
	if uid, _ := ev.Props.Text(ical.PropUID); uid != "key-1" {
		t.Errorf("expected UID key-1, got %q", uid)
	}
}

func TestFromICalOtherCollection(t *testing.T) {
	cal, err := toICal("other", "k", remote.Document{remote.FieldID: "x"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := fromICal(cal, remote.Collection); err == nil {
		t.Fatal("expected objects from another collection to be skipped")
	}
	if _, _, err := fromICal(nil, remote.Collection); err == nil {
		t.Fatal("expected error for empty object")
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(errors.New("HTTP request failed: 404 Not Found")) {
		t.Error("expected 404 to be recognised")
	}
	if isNotFound(errors.New("HTTP request failed: 500 Internal Server Error: /cal/shared_events-a404b.ics")) {
		t.Error("a 404 inside a path is not a not-found error")
	}
}
