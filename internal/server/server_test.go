package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sharedcal/internal/freetime"
	"sharedcal/internal/models"
	"sharedcal/internal/syncer"
)

var day = time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

func event(owner, id string, startHour, endHour int) models.EventRecord {
	return models.EventRecord{
		ID:          id,
		Title:       id,
		StartDate:   day.Add(time.Duration(startHour) * time.Hour),
		EndDate:     day.Add(time.Duration(endHour) * time.Hour),
		OwnerID:     owner,
		SessionCode: "room",
	}
}

func newTestServer(t *testing.T, syncFn SyncFunc) (*Server, *syncer.SessionState) {
	t.Helper()
	state := syncer.NewSessionState("me", "room")
	state.Apply(syncer.Result{
		State:        syncer.Done,
		Succeeded:    1,
		PartnerCount: 1,
		Refreshed:    true,
		Mine:         []models.EventRecord{event("me", "gym", 9, 10)},
		Others:       []models.EventRecord{event("you", "lunch", 12, 13)},
	}, day)

	if syncFn == nil {
		syncFn = func(context.Context) (syncer.Result, error) {
			return syncer.Result{State: syncer.Done, Succeeded: 2, Refreshed: true, PartnerCount: 1}, nil
		}
	}
	srv := New(Config{
		State:        state,
		Sync:         syncFn,
		Location:     time.UTC,
		WorkdayStart: freetime.ClockTime{Hour: 8},
		WorkdayEnd:   freetime.ClockTime{Hour: 18},
		Now:          func() time.Time { return day.Add(7 * time.Hour) },
	})
	return srv, state
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Router()

	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz: %d %q", rec.Code, rec.Body.String())
	}
	rec := do(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected default collectors in metrics output")
	}
}

func TestSchedule(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := do(t, srv.Router(), http.MethodGet, "/schedule")
	if rec.Code != http.StatusOK {
		t.Fatalf("schedule: %d", rec.Code)
	}

	var days []dayView
	if err := json.NewDecoder(rec.Body).Decode(&days); err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 || days[0].Date != "2026-10-20" {
		t.Fatalf("unexpected days %+v", days)
	}
	if len(days[0].Mine) != 1 || days[0].Mine[0].ID != "gym" || len(days[0].Others) != 1 || days[0].Others[0].Owner != "you" {
		t.Errorf("unexpected events %+v", days[0])
	}
}

func TestFree(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Router()

	for _, target := range []string{"/free", "/free?date=2026-10-20"} {
		rec := do(t, h, http.MethodGet, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d", target, rec.Code)
		}
		var v freeView
		if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
			t.Fatal(err)
		}
		// 08-09, 10-12, 13-18
		if len(v.Free) != 3 {
			t.Fatalf("%s: expected 3 free slots, got %+v", target, v.Free)
		}
		if v.Free[1].Start.Hour() != 10 || v.Free[1].End.Hour() != 12 {
			t.Errorf("%s: unexpected middle slot %+v", target, v.Free[1])
		}
		if len(v.Busy) != 2 {
			t.Errorf("%s: expected 2 busy intervals, got %+v", target, v.Busy)
		}
	}

	rec := do(t, h, http.MethodGet, "/free?date=2026-10-21")
	var empty freeView
	if err := json.NewDecoder(rec.Body).Decode(&empty); err != nil {
		t.Fatal(err)
	}
	if len(empty.Free) != 1 || empty.Free[0].Duration() != 10*time.Hour {
		t.Errorf("expected the whole window free on an empty day, got %+v", empty.Free)
	}

	if rec := do(t, h, http.MethodGet, "/free?date=tomorrow"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad date, got %d", rec.Code)
	}
}

func TestSyncEndpoint(t *testing.T) {
	srv, state := newTestServer(t, nil)
	h := srv.Router()

	rec := do(t, h, http.MethodPost, "/sync")
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: %d %s", rec.Code, rec.Body.String())
	}
	var v syncView
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v.Succeeded != 2 || v.State != "done" || !v.Refreshed {
		t.Errorf("unexpected sync response %+v", v)
	}

	state.Disconnect()
	if rec := do(t, h, http.MethodPost, "/sync"); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 without a session, got %d", rec.Code)
	}
}

func TestSyncErrors(t *testing.T) {
	srv, _ := newTestServer(t, func(context.Context) (syncer.Result, error) {
		return syncer.Result{}, errors.Join(models.ErrSourceAccessDenied, errors.New("token revoked"))
	})
	if rec := do(t, srv.Router(), http.MethodPost, "/sync"); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for denied source, got %d", rec.Code)
	}
}

func TestSyncRejectsOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv, _ := newTestServer(t, func(context.Context) (syncer.Result, error) {
		close(started)
		<-release
		return syncer.Result{State: syncer.Done}, nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := srv.Sync(context.Background())
		done <- err
	}()
	<-started

	if rec := do(t, srv.Router(), http.MethodPost, "/sync"); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while a sync runs, got %d", rec.Code)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first sync: %v", err)
	}
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := do(t, srv.Router(), http.MethodGet, "/status")
	var v statusView
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v.Owner != "me" || v.Session != "room" || v.PartnerCount != 1 || v.SyncedAt == nil {
		t.Errorf("unexpected status %+v", v)
	}
}

func TestDrainWaitsForRunningSync(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv, _ := newTestServer(t, func(context.Context) (syncer.Result, error) {
		close(started)
		<-release
		return syncer.Result{State: syncer.Done}, nil
	})

	go func() {
		_ = do(t, srv.Router(), http.MethodPost, "/sync")
	}()
	<-started

	drained := make(chan struct{})
	go func() {
		srv.Drain()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("Drain returned while a sync was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("Drain did not return after the sync finished")
	}

	if _, err := srv.Sync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("expected syncs to be refused after Drain, got %v", err)
	}
}
