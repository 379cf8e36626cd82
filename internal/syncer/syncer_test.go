package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sharedcal/internal/models"
	"sharedcal/internal/remote"
)

// fakeStore wraps a MemoryStore with failure injection.
type fakeStore struct {
	*remote.MemoryStore

	failUpsertIDs map[string]bool // event ids whose upload fails
	failQuery     bool
	failDelete    bool

	upserts       atomic.Int64
	deletes       atomic.Int64
	upsertsAtRead atomic.Int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: remote.NewMemoryStore(), failUpsertIDs: map[string]bool{}}
}

func (f *fakeStore) Upsert(ctx context.Context, collection, id string, doc remote.Document) error {
	defer f.upserts.Add(1)
	if eventID, _ := doc[remote.FieldID].(string); f.failUpsertIDs[eventID] {
		return errors.New("write rejected")
	}
	return f.MemoryStore.Upsert(ctx, collection, id, doc)
}

func (f *fakeStore) Delete(ctx context.Context, collection, id string) error {
	f.deletes.Add(1)
	if f.failDelete {
		return errors.New("delete rejected")
	}
	return f.MemoryStore.Delete(ctx, collection, id)
}

func (f *fakeStore) Query(ctx context.Context, collection, field, value string, limit int) ([]remote.Document, error) {
	f.upsertsAtRead.Store(f.upserts.Load())
	if f.failQuery {
		return nil, errors.New("network down")
	}
	return f.MemoryStore.Query(ctx, collection, field, value, limit)
}

var base = time.Date(2026, 9, 7, 9, 0, 0, 0, time.UTC)

func record(owner, id string, offset time.Duration) models.EventRecord {
	return models.NewEventRecord(models.RawEvent{
		ID:    id,
		Title: id,
		Start: base.Add(offset),
		End:   base.Add(offset + time.Hour),
	}, owner, "room")
}

func TestSyncCountsFailuresAndStillDownloads(t *testing.T) {
	store := newFakeStore()
	store.failUpsertIDs["second"] = true
	s := NewSyncer(nil, store)

	partner := record("B", "partner", 0)
	if err := store.MemoryStore.Upsert(context.Background(), remote.Collection, remote.DocumentKey(partner), remote.EncodeRecord(partner)); err != nil {
		t.Fatal(err)
	}

	local := []models.EventRecord{
		record("A", "first", 0),
		record("A", "second", time.Hour),
		record("A", "third", 2*time.Hour),
	}
	res := s.Sync(context.Background(), "A", "room", local)

	if res.Succeeded != 2 || res.Failed != 1 {
		t.Fatalf("expected 2 succeeded / 1 failed, got %d / %d", res.Succeeded, res.Failed)
	}
	if res.State != Done || !res.Refreshed {
		t.Fatalf("expected refreshed Done result, got %v refreshed=%v", res.State, res.Refreshed)
	}
	if res.PartnerCount != 1 || res.Others[0].ID != "partner" {
		t.Errorf("expected the partner's event, got %+v", res.Others)
	}
	if len(res.Mine) != 2 || res.Mine[0].ID != "first" || res.Mine[1].ID != "third" {
		t.Errorf("expected my two uploaded events in order, got %+v", res.Mine)
	}
	if got := store.upsertsAtRead.Load(); got != 3 {
		t.Errorf("expected all 3 uploads before the download, saw %d", got)
	}
}

func TestSyncQueryFailureDegrades(t *testing.T) {
	store := newFakeStore()
	store.failQuery = true
	status := make(chan Status, 8)
	s := NewSyncer(nil, store, WithStatus(status))

	res := s.Sync(context.Background(), "A", "room", []models.EventRecord{record("A", "x", 0)})

	if res.Succeeded != 1 || res.Refreshed || res.PartnerCount != 0 || res.Others != nil {
		t.Fatalf("expected uploaded-but-unrefreshed result, got %+v", res)
	}
	if res.State != Done {
		t.Errorf("expected Done, got %v", res.State)
	}

	close(status)
	var states []State
	var last string
	for st := range status {
		states = append(states, st.State)
		last = st.Message
	}
	if len(states) != 3 || states[0] != Uploading || states[1] != Downloading || states[2] != Done {
		t.Errorf("unexpected status sequence %v", states)
	}
	if last != res.Message() {
		t.Errorf("final status %q does not match result %q", last, res.Message())
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	store := newFakeStore()
	s := NewSyncer(nil, store, WithConcurrency(1))
	local := []models.EventRecord{record("A", "x", 0), record("A", "y", time.Hour)}

	s.Sync(context.Background(), "A", "room", local)
	res := s.Sync(context.Background(), "A", "room", local)

	if store.Len(remote.Collection) != 2 {
		t.Fatalf("expected 2 documents after repeated sync, got %d", store.Len(remote.Collection))
	}
	if len(res.Mine) != 2 {
		t.Errorf("expected 2 of my events, got %d", len(res.Mine))
	}
}

func TestSyncRejectsForeignRecords(t *testing.T) {
	store := newFakeStore()
	s := NewSyncer(nil, store)

	res := s.Sync(context.Background(), "A", "room", []models.EventRecord{record("B", "x", 0)})
	if res.Failed != 1 || res.Succeeded != 0 {
		t.Fatalf("expected foreign record to fail, got %+v", res)
	}
	if store.Len(remote.Collection) != 0 {
		t.Error("foreign record must not be written")
	}
}

func TestSyncDryRun(t *testing.T) {
	store := newFakeStore()
	s := NewSyncer(nil, store, WithDryRun(true))

	res := s.Sync(context.Background(), "A", "room", []models.EventRecord{record("A", "x", 0)})
	if res.Succeeded != 1 || store.upserts.Load() != 0 {
		t.Fatalf("dry run must not write, got %d upserts", store.upserts.Load())
	}
}

func TestSyncAsync(t *testing.T) {
	s := NewSyncer(nil, newFakeStore())

	select {
	case res := <-s.SyncAsync(context.Background(), "A", "room", []models.EventRecord{record("A", "x", 0)}):
		if res.Succeeded != 1 {
			t.Fatalf("expected 1 upload, got %d", res.Succeeded)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sync")
	}
}

func TestLeaveAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	s := NewSyncer(nil, store)

	mine := []models.EventRecord{record("A", "x", 0), record("A", "y", time.Hour)}
	theirs := record("B", "z", 0)
	s.Sync(ctx, "A", "room", mine)
	s.Sync(ctx, "B", "room", []models.EventRecord{theirs})

	s.LeaveAndDelete(ctx, "A", append(mine, theirs))

	docs, err := store.MemoryStore.Query(ctx, remote.Collection, remote.FieldSessionCode, "room", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0][remote.FieldOwnerID] != "B" {
		t.Fatalf("expected only B's event to remain, got %v", docs)
	}

	// Deleting again is a no-op.
	s.LeaveAndDelete(ctx, "A", mine)
}

func TestLeaveAndDeleteSwallowsFailures(t *testing.T) {
	store := newFakeStore()
	store.failDelete = true
	s := NewSyncer(nil, store)

	s.LeaveAndDelete(context.Background(), "A", []models.EventRecord{record("A", "x", 0), record("A", "y", 0)})
	if store.deletes.Load() != 2 {
		t.Fatalf("expected every delete to be attempted, got %d", store.deletes.Load())
	}
}

func TestSyncConcurrentCounters(t *testing.T) {
	store := newFakeStore()
	var local []models.EventRecord
	for i := 0; i < 50; i++ {
		id := string(rune('a'+i%26)) + string(rune('A'+i/26))
		if i%5 == 0 {
			store.failUpsertIDs[id] = true
		}
		local = append(local, record("A", id, time.Duration(i)*time.Minute))
	}
	s := NewSyncer(nil, store, WithConcurrency(8))

	var wg sync.WaitGroup
	wg.Add(1)
	var res Result
	go func() {
		defer wg.Done()
		res = s.Sync(context.Background(), "A", "room", local)
	}()
	wg.Wait()

	if res.Succeeded != 40 || res.Failed != 10 {
		t.Fatalf("expected 40/10, got %d/%d", res.Succeeded, res.Failed)
	}
}
