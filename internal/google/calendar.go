package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"sharedcal/internal/models"
)

const (
	credentialsFile = "credentials.json"
	dateLayout      = "2006-01-02"
)

// CalendarClient reads events from the Google Calendar API.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
	loc     *time.Location
}

// NewClient creates a new Google Calendar client.
// It handles loading credentials and setting up an authenticated HTTP client.
// It supports multiple accounts by looking for token files like token-user1.json, token-user2.json, etc.
// The accountName is used to find the correct token file in tokenDir.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, tokenDir, accountName string, loc *time.Location) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	token, err := tokenFromFile(TokenPath(tokenDir, accountName))
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	client := config.Client(ctx, token)
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	if loc == nil {
		loc = time.Local
	}
	return &CalendarClient{service: service, logger: logger, loc: loc}, nil
}

// FetchEvents returns the events of the given calendars between start and end.
// Recurring events are expanded into single instances.
func (c *CalendarClient) FetchEvents(ctx context.Context, calendarIDs []string, start, end time.Time) ([]models.RawEvent, error) {
	var all []models.RawEvent
	for _, calendarID := range calendarIDs {
		c.logger.Debug("Fetching events", "calendarID", calendarID, "start", start, "end", end)

		var fetched int
		err := c.service.Events.List(calendarID).
			ShowDeleted(false).
			SingleEvents(true).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			OrderBy("startTime").
			Pages(ctx, func(page *calendar.Events) error {
				events := c.toRawEvents(page.Items, page.Summary)
				fetched += len(events)
				all = append(all, events...)
				return nil
			})
		if err != nil {
			return nil, classify(fmt.Errorf("failed to retrieve events for %s: %w", calendarID, err))
		}

		c.logger.Info("Successfully fetched events from Google Calendar", "count", fetched, "calendarID", calendarID)
	}
	return all, nil
}

// toRawEvents converts Google Calendar events to raw source events.
func (c *CalendarClient) toRawEvents(items []*calendar.Event, calendarName string) []models.RawEvent {
	var events []models.RawEvent
	for _, item := range items {
		if item.Start == nil || item.End == nil {
			continue
		}

		ev := models.RawEvent{
			ID:           item.Id,
			Title:        item.Summary,
			CalendarName: calendarName,
		}

		if item.Start.DateTime == "" {
			// All-day events only carry a date; the end date is exclusive.
			startDay, err := time.ParseInLocation(dateLayout, item.Start.Date, c.loc)
			if err != nil {
				c.logger.Warn("Skipping event with unreadable date", "id", item.Id, "error", err)
				continue
			}
			endDay, err := time.ParseInLocation(dateLayout, item.End.Date, c.loc)
			if err != nil {
				endDay = startDay.AddDate(0, 0, 1)
			}
			ev.Start, ev.End, ev.AllDay = startDay, endDay, true
		} else {
			startTime, err := time.Parse(time.RFC3339, item.Start.DateTime)
			if err != nil {
				c.logger.Warn("Skipping event with unreadable start", "id", item.Id, "error", err)
				continue
			}
			endTime, err := time.Parse(time.RFC3339, item.End.DateTime)
			if err != nil {
				endTime = startTime
			}
			ev.Start, ev.End = startTime, endTime
		}

		events = append(events, ev)
	}
	return events
}

// Calendar is a calendar visible to the authenticated account.
type Calendar struct {
	ID   string
	Name string
}

// ListCalendars finds all calendars associated with the authenticated account.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]Calendar, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list calendars: %w", err))
	}

	var calendars []Calendar
	for _, item := range list.Items {
		calendars = append(calendars, Calendar{ID: item.Id, Name: item.Summary})
	}
	return calendars, nil
}

// classify marks authorization failures as denied source access.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", models.ErrSourceAccessDenied, err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %w", models.ErrSourceAccessDenied, err)
	}
	return err
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// TokenPath returns the token file for an account.
func TokenPath(dir, accountName string) string {
	return filepath.Join(dir, "token-"+accountName+".json")
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// GetTokenAccounts lists the accounts that have a token file in dir.
func GetTokenAccounts(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accountName := strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json")
			accounts = append(accounts, accountName)
		}
	}
	return accounts, nil
}
