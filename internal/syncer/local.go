package syncer

import (
	"context"
	"fmt"
	"time"

	"sharedcal/internal/models"
)

// Source reads raw events from a local calendar.
type Source interface {
	FetchEvents(ctx context.Context, calendarIDs []string, start, end time.Time) ([]models.RawEvent, error)
}

// LoadLocal reads the selected calendars and tags each event with the owner
// and session. Events without a source identifier are skipped. The returned
// error wraps models.ErrSourceAccessDenied when the source refused access.
func LoadLocal(ctx context.Context, src Source, calendarIDs []string, start, end time.Time, ownerID, sessionCode string) ([]models.EventRecord, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}

	raw, err := src.FetchEvents(ctx, calendarIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load local events: %w", err)
	}

	records := make([]models.EventRecord, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, ev := range raw {
		if ev.ID == "" {
			continue
		}
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		records = append(records, models.NewEventRecord(ev, ownerID, sessionCode))
	}
	return records, nil
}
