// Package server exposes the joined session over HTTP: the merged schedule,
// free time for a day, a sync trigger and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sharedcal/internal/freetime"
	"sharedcal/internal/metrics"
	"sharedcal/internal/models"
	"sharedcal/internal/reconcile"
	"sharedcal/internal/syncer"
)

// ErrSyncInProgress is returned when a sync is requested while one runs.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncFunc runs one sync cycle and applies its result to the session state.
type SyncFunc func(ctx context.Context) (syncer.Result, error)

// Config holds the server's collaborators.
type Config struct {
	Logger       *slog.Logger
	State        *syncer.SessionState
	Sync         SyncFunc
	Location     *time.Location
	WorkdayStart freetime.ClockTime
	WorkdayEnd   freetime.ClockTime

	// Now defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	logger   *slog.Logger
	state    *syncer.SessionState
	syncFn   SyncFunc
	loc      *time.Location
	start    freetime.ClockTime
	end      freetime.ClockTime
	now      func() time.Time
	syncLock sync.Mutex
}

func New(cfg Config) *Server {
	s := &Server{
		logger: cfg.Logger,
		state:  cfg.State,
		syncFn: cfg.Sync,
		loc:    cfg.Location,
		start:  cfg.WorkdayStart,
		end:    cfg.WorkdayEnd,
		now:    cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Sync runs the sync function unless another run is in progress.
func (s *Server) Sync(ctx context.Context) (syncer.Result, error) {
	if !s.syncLock.TryLock() {
		return syncer.Result{}, ErrSyncInProgress
	}
	defer s.syncLock.Unlock()
	return s.syncFn(ctx)
}

// Drain waits for a running sync to finish and keeps later ones from
// starting. Call it once the server has stopped, before tearing down
// anything the sync function uses.
func (s *Server) Drain() {
	s.syncLock.Lock()
}

// Router wires the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Get("/status", s.handleStatus)
	r.Get("/schedule", s.handleSchedule)
	r.Get("/free", s.handleFree)
	r.Post("/sync", s.handleSync)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type eventView struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"allDay"`
	Calendar string    `json:"calendar,omitempty"`
	Owner    string    `json:"owner"`
}

func viewEvents(records []models.EventRecord) []eventView {
	out := make([]eventView, 0, len(records))
	for _, r := range records {
		out = append(out, eventView{
			ID:       r.ID,
			Title:    r.Title,
			Start:    r.StartDate,
			End:      r.EndDate,
			AllDay:   r.IsAllDay,
			Calendar: r.CalendarName,
			Owner:    r.OwnerID,
		})
	}
	return out
}

type statusView struct {
	Owner        string     `json:"owner"`
	Session      string     `json:"session"`
	Message      string     `json:"message,omitempty"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	PartnerCount int        `json:"partnerCount"`
	SyncedAt     *time.Time `json:"syncedAt,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v := statusView{Owner: s.state.OwnerID(), Session: s.state.SessionCode()}
	if res, at, ok := s.state.LastResult(); ok {
		v.Message = res.Message()
		v.Succeeded, v.Failed, v.PartnerCount = res.Succeeded, res.Failed, res.PartnerCount
		v.SyncedAt = &at
	}
	s.writeJSON(w, r, http.StatusOK, v)
}

type dayView struct {
	Date   string      `json:"date"`
	Mine   []eventView `json:"mine"`
	Others []eventView `json:"others"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	days := []dayView{}
	for day, events := range s.state.Schedule(s.loc).All() {
		days = append(days, dayView{
			Date:   day.String(),
			Mine:   viewEvents(events.Mine),
			Others: viewEvents(events.Others),
		})
	}
	s.writeJSON(w, r, http.StatusOK, days)
}

type freeView struct {
	Date   string              `json:"date"`
	Window freetime.Interval   `json:"window"`
	Free   []freetime.Interval `json:"free"`
	Busy   []freetime.Interval `json:"busy"`
}

func (s *Server) handleFree(w http.ResponseWriter, r *http.Request) {
	day := reconcile.DayOf(s.now(), s.loc)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := reconcile.ParseDay(raw)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}

	// Events from earlier days may run into this one, so the whole snapshot
	// is passed and filtered by overlap.
	mine, partner := s.state.Events()
	busy := append(mine, partner...)

	date := day.Start(s.loc)
	windowStart, windowEnd := freetime.Window(day, s.loc, s.start, s.end)
	v := freeView{
		Date:   day.String(),
		Window: freetime.Interval{Start: windowStart, End: windowEnd},
		Free:   freetime.FreeSlots(date, busy, windowStart, windowEnd),
		Busy:   freetime.MergeBusy(date, busy, windowStart, windowEnd),
	}
	if v.Free == nil {
		v.Free = []freetime.Interval{}
	}
	if v.Busy == nil {
		v.Busy = []freetime.Interval{}
	}
	s.writeJSON(w, r, http.StatusOK, v)
}

type syncView struct {
	State        string `json:"state"`
	Message      string `json:"message"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
	PartnerCount int    `json:"partnerCount"`
	Refreshed    bool   `json:"refreshed"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.state.SessionCode() == "" {
		http.Error(w, "not joined to a session", http.StatusConflict)
		return
	}

	res, err := s.Sync(r.Context())
	if errors.Is(err, ErrSyncInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		s.logger.Error("Sync request failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrSourceAccessDenied) {
			status = http.StatusForbidden
		}
		http.Error(w, "sync failed", status)
		return
	}

	s.writeJSON(w, r, http.StatusOK, syncView{
		State:        res.State.String(),
		Message:      res.Message(),
		Succeeded:    res.Succeeded,
		Failed:       res.Failed,
		PartnerCount: res.PartnerCount,
		Refreshed:    res.Refreshed,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
}
