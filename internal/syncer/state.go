package syncer

import (
	"context"
	"slices"
	"sync"
	"time"

	"sharedcal/internal/models"
	"sharedcal/internal/reconcile"
)

// SessionState is the caller-side snapshot of a joined session. Its event
// lists are only ever replaced as a whole, so readers always see the result
// of one complete sync.
type SessionState struct {
	mu            sync.RWMutex
	ownerID       string
	sessionCode   string
	myEvents      []models.EventRecord
	partnerEvents []models.EventRecord
	lastResult    *Result
	syncedAt      time.Time
}

// NewSessionState creates the snapshot for ownerID in sessionCode.
func NewSessionState(ownerID, sessionCode string) *SessionState {
	return &SessionState{ownerID: ownerID, sessionCode: sessionCode}
}

// OwnerID returns the local owner.
func (s *SessionState) OwnerID() string {
	return s.ownerID
}

// SessionCode returns the joined session, or "" after Disconnect or Leave.
func (s *SessionState) SessionCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionCode
}

// Apply replaces the snapshot with a sync result. Unrefreshed results only
// update the counters; the previous event lists are kept.
func (s *SessionState) Apply(res Result, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Refreshed {
		s.myEvents = res.Mine
		s.partnerEvents = res.Others
	}
	s.lastResult = &res
	s.syncedAt = at
}

// Events returns the current snapshot.
func (s *SessionState) Events() (mine, partner []models.EventRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.myEvents), slices.Clone(s.partnerEvents)
}

// LastResult returns the last applied result and when it was applied.
func (s *SessionState) LastResult() (Result, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastResult == nil {
		return Result{}, time.Time{}, false
	}
	return *s.lastResult, s.syncedAt, true
}

// Schedule groups the snapshot by day in loc.
func (s *SessionState) Schedule(loc *time.Location) *reconcile.Schedule {
	mine, partner := s.Events()
	return reconcile.GroupByDay(mine, partner, loc)
}

// Disconnect forgets the session locally. Uploaded events stay in the
// remote store.
func (s *SessionState) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// Leave forgets the session locally and then deletes the owner's events from
// the remote store in the background. The returned channel is closed when
// the deletes have been attempted.
func (s *SessionState) Leave(ctx context.Context, syncer *Syncer) <-chan struct{} {
	s.mu.Lock()
	owned := s.myEvents
	s.clearLocked()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		syncer.LeaveAndDelete(ctx, s.ownerID, owned)
	}()
	return done
}

func (s *SessionState) clearLocked() {
	s.sessionCode = ""
	s.myEvents = nil
	s.partnerEvents = nil
	s.lastResult = nil
	s.syncedAt = time.Time{}
}
