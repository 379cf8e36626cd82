package icloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"sharedcal/internal/remote"
)

const (
	// DefaultEndpoint is Apple's CalDAV server.
	DefaultEndpoint = "https://caldav.icloud.com/"

	propCollection = "X-SHAREDCAL-COLLECTION"
	propDocument   = "X-SHAREDCAL-DOCUMENT"
	productID      = "-//sharedcal//EN"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "sharedcal/1.0")
	return t.Transport.RoundTrip(req)
}

// Config identifies the shared calendar on a CalDAV server.
type Config struct {
	Endpoint     string // Defaults to DefaultEndpoint
	Username     string
	Password     string // App-specific password for iCloud
	CalendarName string // Display name of the calendar holding shared events
}

// Store is a remote.Store kept in a CalDAV calendar. Each document becomes
// one VEVENT whose summary and times mirror the event, with the full document
// carried in a private property.
type Store struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	calendarPath string
}

// NewStore connects to the CalDAV server and locates the shared calendar.
func NewStore(ctx context.Context, logger *slog.Logger, cfg Config) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	transport := &customTransport{
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	s := &Store{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
	}

	logger.Info("Finding CalDAV calendar", "calendarName", cfg.CalendarName)
	calendarPath, err := s.findCalendar(ctx, cfg.CalendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", cfg.CalendarName, err)
	}
	s.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return s, nil
}

// Upsert writes the document as a calendar object, replacing any previous one.
func (s *Store) Upsert(ctx context.Context, collection, id string, doc remote.Document) error {
	cal, err := toICal(collection, id, doc, time.Now().UTC())
	if err != nil {
		return err
	}

	writer, err := s.webdavClient.Create(ctx, s.objectPath(collection, id))
	if err != nil {
		return fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	if err := ical.NewEncoder(writer).Encode(cal); err != nil {
		writer.Close()
		return fmt.Errorf("failed to encode event to iCal format: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to upload event: %w", err)
	}

	s.logger.Debug("Stored document in CalDAV calendar", "collection", collection, "id", id)
	return nil
}

// Delete removes the calendar object. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	err := s.webdavClient.RemoveAll(ctx, s.objectPath(collection, id))
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete event on CalDAV server: %w", err)
	}
	return nil
}

// Query lists the collection's objects and keeps those whose field matches.
func (s *Store) Query(ctx context.Context, collection, field, value string, limit int) ([]remote.Document, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name: ical.CompEvent,
				Props: []caldav.PropFilter{{
					Name:      propCollection,
					TextMatch: &caldav.TextMatch{Text: collection},
				}},
			}},
		},
	}

	objects, err := s.caldavClient.QueryCalendar(ctx, s.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query CalDAV calendar: %w", err)
	}

	type stamped struct {
		doc remote.Document
		at  time.Time
	}
	var matches []stamped
	for _, obj := range objects {
		doc, at, err := fromICal(obj.Data, collection)
		if err != nil {
			s.logger.Debug("Skipping calendar object", "path", obj.Path, "error", err)
			continue
		}
		if v, ok := doc[field].(string); !ok || v != value {
			continue
		}
		matches = append(matches, stamped{doc: doc, at: at})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].at.After(matches[j].at) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	docs := make([]remote.Document, len(matches))
	for i, m := range matches {
		docs[i] = m.doc
	}
	return docs, nil
}

func (s *Store) objectPath(collection, id string) string {
	return path.Join(s.calendarPath, fmt.Sprintf("%s-%s.ics", collection, id))
}

// toICal converts a document to a calendar holding a single VEVENT.
func toICal(collection, id string, doc remote.Document, now time.Time) (*ical.Calendar, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", id, err)
	}

	start, ok := docTime(doc, remote.FieldStartDate)
	if !ok {
		start = now
	}
	end, ok := docTime(doc, remote.FieldEndDate)
	if !ok || end.Before(start) {
		end = start
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, id)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now)
	ve.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	if title, ok := doc[remote.FieldTitle].(string); ok && title != "" {
		ve.Props.SetText(ical.PropSummary, title)
	}
	if owner, ok := doc[remote.FieldOwnerID].(string); ok && owner != "" {
		ve.Props.SetText(ical.PropDescription, fmt.Sprintf("Shared by %s", owner))
	}
	ve.Props.SetText(propCollection, collection)
	ve.Props.SetText(propDocument, string(body))

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, ve)
	return cal, nil
}

// fromICal extracts the document and its write time from a calendar object.
func fromICal(cal *ical.Calendar, collection string) (remote.Document, time.Time, error) {
	if cal == nil {
		return nil, time.Time{}, fmt.Errorf("empty calendar object")
	}
	for _, ev := range cal.Events() {
		if c, err := ev.Props.Text(propCollection); err != nil || c != collection {
			continue
		}
		raw, err := ev.Props.Text(propDocument)
		if err != nil || raw == "" {
			return nil, time.Time{}, fmt.Errorf("event has no %s property", propDocument)
		}
		var doc remote.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to decode document: %w", err)
		}
		stamp, _ := ev.Props.DateTime(ical.PropDateTimeStamp, time.UTC)
		return doc, stamp, nil
	}
	return nil, time.Time{}, fmt.Errorf("no event for collection %s", collection)
}

func docTime(doc remote.Document, field string) (time.Time, bool) {
	s, ok := doc[field].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

// isNotFound reports whether a WebDAV error is a 404 response.
func isNotFound(err error) bool {
	return strings.Contains(err.Error(), fmt.Sprintf("%d %s", http.StatusNotFound, http.StatusText(http.StatusNotFound)))
}

// findCalendar discovers the user's calendars and returns the path of the one
// with the matching name.
func (s *Store) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := s.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := s.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := s.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
