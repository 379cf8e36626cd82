package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"sharedcal/internal/metrics"
	"sharedcal/internal/models"
	"sharedcal/internal/reconcile"
	"sharedcal/internal/remote"
)

// DefaultConcurrency bounds how many uploads are in flight at once.
const DefaultConcurrency = 4

// State is the phase of a sync cycle.
type State int

const (
	Idle State = iota
	Uploading
	Downloading
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Uploading:
		return "uploading"
	case Downloading:
		return "downloading"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Status is a progress update emitted while a sync runs.
type Status struct {
	State   State
	Message string
}

// Result is the terminal report of a sync cycle.
type Result struct {
	State        State
	Succeeded    int
	Failed       int
	PartnerCount int
	// Refreshed is false when the session could not be downloaded; Mine and
	// Others are then empty.
	Refreshed bool
	Mine      []models.EventRecord
	Others    []models.EventRecord
}

// Message renders the result as a status line.
func (r Result) Message() string {
	upload := fmt.Sprintf("Uploaded %d events", r.Succeeded)
	if r.Failed > 0 {
		upload += fmt.Sprintf(" (%d failed)", r.Failed)
	}
	if !r.Refreshed {
		return upload + ", but could not refresh partner events."
	}
	return upload + fmt.Sprintf(". Partner has %d events.", r.PartnerCount)
}

// Syncer orchestrates the upload-then-download cycle against a remote store.
type Syncer struct {
	logger      *slog.Logger
	store       remote.Store
	collection  string
	concurrency int
	dryRun      bool
	status      chan<- Status
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithConcurrency bounds concurrent uploads.
func WithConcurrency(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithDryRun logs uploads and deletes instead of performing them.
func WithDryRun(dryRun bool) Option {
	return func(s *Syncer) {
		s.dryRun = dryRun
	}
}

// WithStatus sets a channel receiving progress updates. Sends never block;
// updates are dropped when the channel is full.
func WithStatus(ch chan<- Status) Option {
	return func(s *Syncer) {
		s.status = ch
	}
}

// WithCollection overrides the collection records are written to.
func WithCollection(name string) Option {
	return func(s *Syncer) {
		s.collection = name
	}
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, store remote.Store, opts ...Option) *Syncer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Syncer{
		logger:      logger,
		store:       store,
		collection:  remote.Collection,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync uploads every local record, then downloads the whole session and
// splits it by owner. Upload failures are counted, not retried, and never
// stop the batch. A failed download leaves the result unrefreshed instead of
// failing the cycle.
func (s *Syncer) Sync(ctx context.Context, ownerID, sessionCode string, local []models.EventRecord) Result {
	s.logger.Info("Starting sync cycle.", "session", sessionCode, "records", len(local))
	res := Result{State: Idle}

	res.State = Uploading
	s.emit(Uploading, fmt.Sprintf("Uploading %d events...", len(local)))
	res.Succeeded, res.Failed = s.upload(ctx, ownerID, sessionCode, local)

	res.State = Downloading
	s.emit(Downloading, "Downloading partner events...")
	records, err := s.download(ctx, sessionCode)
	if err != nil {
		s.logger.Error("Could not refresh session events", "session", sessionCode, "error", err)
	} else {
		owned := reconcile.Partition(records, ownerID)
		res.Mine, res.Others = owned.Mine, owned.Others
		res.PartnerCount = len(owned.Others)
		res.Refreshed = true
	}

	res.State = Done
	metrics.ObserveSync(res.Refreshed, res.PartnerCount)
	s.emit(Done, res.Message())
	s.logger.Info("Sync cycle finished.",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"partnerCount", res.PartnerCount,
		"refreshed", res.Refreshed,
	)
	return res
}

// SyncAsync runs Sync in the background and delivers its result on the
// returned channel.
func (s *Syncer) SyncAsync(ctx context.Context, ownerID, sessionCode string, local []models.EventRecord) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- s.Sync(ctx, ownerID, sessionCode, local)
	}()
	return out
}

// upload writes every record independently and returns the success and
// failure counts. All uploads have finished when it returns.
func (s *Syncer) upload(ctx context.Context, ownerID, sessionCode string, local []models.EventRecord) (int, int) {
	var succeeded, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, r := range local {
		g.Go(func() error {
			if err := s.uploadRecord(ctx, ownerID, sessionCode, r); err != nil {
				failed.Add(1)
				s.logger.Error("Failed to upload event", "title", r.Title, "id", r.ID, "error", err)
				// Continue with the other events even if one fails.
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(succeeded.Load()), int(failed.Load())
}

func (s *Syncer) uploadRecord(ctx context.Context, ownerID, sessionCode string, r models.EventRecord) error {
	if r.OwnerID != ownerID || r.SessionCode != sessionCode {
		return fmt.Errorf("%w: record %s belongs to %s in %s", models.ErrRecordUpsertFailed, r.ID, r.OwnerID, r.SessionCode)
	}
	if !r.Valid() {
		return fmt.Errorf("%w: record %q is incomplete", models.ErrRecordUpsertFailed, r.ID)
	}

	if s.dryRun {
		s.logger.Info("[DRY RUN] Would upload event", "title", r.Title, "startTime", r.StartDate)
		return nil
	}

	err := s.store.Upsert(ctx, s.collection, remote.DocumentKey(r), remote.EncodeRecord(r))
	metrics.ObserveUpload(err)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrRecordUpsertFailed, err)
	}
	s.logger.Debug("Uploaded event", "title", r.Title, "id", r.ID)
	return nil
}

func (s *Syncer) download(ctx context.Context, sessionCode string) ([]models.EventRecord, error) {
	docs, err := s.store.Query(ctx, s.collection, remote.FieldSessionCode, sessionCode, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrRemoteUnreachable, err)
	}
	records := remote.DecodeRecords(s.logger, docs)
	if dropped := len(docs) - len(records); dropped > 0 {
		s.logger.Warn("Dropped malformed session documents", "session", sessionCode, "count", dropped)
	}
	return records, nil
}

// LeaveAndDelete removes every record owned by ownerID from the remote
// store. Each delete is attempted once; failures are logged and swallowed.
func (s *Syncer) LeaveAndDelete(ctx context.Context, ownerID string, owned []models.EventRecord) {
	s.logger.Info("Deleting owned events from session.", "count", len(owned))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, r := range owned {
		if r.OwnerID != ownerID {
			s.logger.Warn("Skipping event owned by someone else", "id", r.ID, "owner", r.OwnerID)
			continue
		}
		g.Go(func() error {
			if s.dryRun {
				s.logger.Info("[DRY RUN] Would delete event", "title", r.Title)
				return nil
			}
			err := s.store.Delete(ctx, s.collection, remote.DocumentKey(r))
			metrics.ObserveDelete(err)
			if err != nil {
				s.logger.Error("Failed to delete event",
					"id", r.ID,
					"error", fmt.Errorf("%w: %w", models.ErrRecordDeleteFailed, err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Syncer) emit(state State, message string) {
	if s.status == nil {
		return
	}
	select {
	case s.status <- Status{State: state, Message: message}:
	default:
	}
}
