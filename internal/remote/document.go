package remote

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sharedcal/internal/models"
)

// Document field names.
const (
	FieldID           = "id"
	FieldTitle        = "title"
	FieldStartDate    = "startDate"
	FieldEndDate      = "endDate"
	FieldIsAllDay     = "isAllDay"
	FieldCalendarName = "calendarName"
	FieldOwnerID      = "ownerId"
	FieldSessionCode  = "sessionCode"
)

// keyNamespace scopes document keys derived by DocumentKey.
var keyNamespace = uuid.MustParse("5b0e3f3c-8f0a-4d3e-9c51-2f6a1c7b9e40")

// DocumentKey returns the store id for a record. The key is stable for a
// given (session, owner, event id), so re-uploading an event replaces the
// previous copy while two owners never overwrite each other.
func DocumentKey(r models.EventRecord) string {
	name := r.SessionCode + "\x00" + r.OwnerID + "\x00" + r.ID
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// EncodeRecord converts a record to its document form.
func EncodeRecord(r models.EventRecord) Document {
	return Document{
		FieldID:           r.ID,
		FieldTitle:        r.Title,
		FieldStartDate:    r.StartDate.UTC().Format(time.RFC3339Nano),
		FieldEndDate:      r.EndDate.UTC().Format(time.RFC3339Nano),
		FieldIsAllDay:     r.IsAllDay,
		FieldCalendarName: r.CalendarName,
		FieldOwnerID:      r.OwnerID,
		FieldSessionCode:  r.SessionCode,
	}
}

// DecodeRecord converts a fetched document back into a record. Documents
// missing any required field yield ErrMalformedRemoteRecord.
func DecodeRecord(doc Document) (models.EventRecord, error) {
	var r models.EventRecord
	var ok bool

	if r.ID, ok = stringField(doc, FieldID); !ok || r.ID == "" {
		return r, fmt.Errorf("%w: missing %s", models.ErrMalformedRemoteRecord, FieldID)
	}
	if r.OwnerID, ok = stringField(doc, FieldOwnerID); !ok || r.OwnerID == "" {
		return r, fmt.Errorf("%w: missing %s", models.ErrMalformedRemoteRecord, FieldOwnerID)
	}
	if r.SessionCode, ok = stringField(doc, FieldSessionCode); !ok || r.SessionCode == "" {
		return r, fmt.Errorf("%w: missing %s", models.ErrMalformedRemoteRecord, FieldSessionCode)
	}
	if r.Title, ok = stringField(doc, FieldTitle); !ok {
		return r, fmt.Errorf("%w: missing %s", models.ErrMalformedRemoteRecord, FieldTitle)
	}
	if r.CalendarName, ok = stringField(doc, FieldCalendarName); !ok {
		return r, fmt.Errorf("%w: missing %s", models.ErrMalformedRemoteRecord, FieldCalendarName)
	}
	if r.StartDate, ok = timeField(doc, FieldStartDate); !ok {
		return r, fmt.Errorf("%w: bad %s", models.ErrMalformedRemoteRecord, FieldStartDate)
	}
	if r.EndDate, ok = timeField(doc, FieldEndDate); !ok {
		return r, fmt.Errorf("%w: bad %s", models.ErrMalformedRemoteRecord, FieldEndDate)
	}
	if r.IsAllDay, ok = boolField(doc, FieldIsAllDay); !ok {
		return r, fmt.Errorf("%w: bad %s", models.ErrMalformedRemoteRecord, FieldIsAllDay)
	}
	if r.EndDate.Before(r.StartDate) {
		return r, fmt.Errorf("%w: end before start", models.ErrMalformedRemoteRecord)
	}
	return r, nil
}

// DecodeRecords decodes every well-formed document and silently drops the rest.
func DecodeRecords(logger *slog.Logger, docs []Document) []models.EventRecord {
	records := make([]models.EventRecord, 0, len(docs))
	for _, doc := range docs {
		r, err := DecodeRecord(doc)
		if err != nil {
			if logger != nil {
				logger.Debug("Dropping remote document", "error", err)
			}
			continue
		}
		records = append(records, r)
	}
	return records
}

func stringField(doc Document, name string) (string, bool) {
	s, ok := doc[name].(string)
	return s, ok
}

func timeField(doc Document, name string) (time.Time, bool) {
	switch v := doc[name].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

// boolField accepts a bool or the 0/1 integer form older clients wrote.
func boolField(doc Document, name string) (bool, bool) {
	switch v := doc[name].(type) {
	case bool:
		return v, true
	case int:
		return v == 1, true
	case int64:
		return v == 1, true
	case float64:
		return v == 1, true
	default:
		return false, false
	}
}
