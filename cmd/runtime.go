package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"sharedcal/internal/config"
	"sharedcal/internal/google"
	"sharedcal/internal/icloud"
	"sharedcal/internal/icsfile"
	"sharedcal/internal/prefs"
	"sharedcal/internal/reconcile"
	"sharedcal/internal/remote"
	"sharedcal/internal/sqlitestore"
	"sharedcal/internal/syncer"
)

// runtime holds what every command needs once configuration is loaded.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	ownerID string

	store      remote.Store
	closeStore func() error
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogger(cfg.LogLevel)

	ownerID, err := prefs.EnsureUserID(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	logger.Debug("Loaded identity", "ownerID", ownerID, "stateFile", cfg.StateFile)

	return &runtime{cfg: cfg, logger: logger, ownerID: ownerID}, nil
}

// savedSession returns the session joined with the join command.
func (rt *runtime) savedSession() (string, error) {
	p, err := prefs.Load(rt.cfg.StateFile)
	if err != nil {
		return "", err
	}
	if p.SavedSessionCode == "" {
		return "", errors.New("not in a session. Run the 'join' command first")
	}
	return p.SavedSessionCode, nil
}

// openStore connects to the configured remote store.
func (rt *runtime) openStore(ctx context.Context) error {
	var (
		store   remote.Store
		closeFn = func() error { return nil }
	)

	switch rt.cfg.Store {
	case config.StoreSQLite:
		s, err := sqlitestore.Open(sqlitestore.Config{Path: rt.cfg.DBPath, Logger: rt.logger})
		if err != nil {
			return err
		}
		store, closeFn = s, s.Close
	case config.StoreCalDAV:
		s, err := icloud.NewStore(ctx, rt.logger, icloud.Config{
			Endpoint:     rt.cfg.CalDAV.URL,
			Username:     rt.cfg.CalDAV.Username,
			Password:     rt.cfg.CalDAV.Password,
			CalendarName: rt.cfg.CalDAV.CalendarName,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", errRemoteSetup, err)
		}
		store = s
	case config.StoreMemory:
		rt.logger.Warn("Using the in-memory store. Shared events are lost on exit.")
		store = remote.NewMemoryStore()
	default:
		return fmt.Errorf("unknown store %q", rt.cfg.Store)
	}

	rt.store = remote.Instrument(rt.cfg.Store, store)
	rt.closeStore = closeFn
	return nil
}

var errRemoteSetup = errors.New("could not connect to the shared calendar")

func (rt *runtime) Close() {
	if rt.closeStore == nil {
		return
	}
	if err := rt.closeStore(); err != nil {
		rt.logger.Warn("Failed to close store", "error", err)
	}
}

// openSource builds the configured local calendar source.
func (rt *runtime) openSource(ctx context.Context) (syncer.Source, error) {
	switch rt.cfg.Source {
	case config.SourceICS:
		return icsfile.New(rt.logger, rt.cfg.Location), nil
	case config.SourceGoogle:
		account := rt.cfg.Google.Account
		if account == "" {
			accounts, err := google.GetTokenAccounts(rt.cfg.Google.TokenDir)
			if err != nil {
				return nil, fmt.Errorf("could not find any google accounts, did you run auth command? %w", err)
			}
			if len(accounts) == 0 {
				return nil, errors.New("no google accounts found. Run the 'auth' command first")
			}
			account = accounts[0]
			if len(accounts) > 1 {
				rt.logger.Warn("Several Google accounts found, set GOOGLE_ACCOUNT to choose one", "using", account)
			}
		}
		client, err := google.NewClient(ctx, rt.logger, rt.cfg.Google.ClientID, rt.cfg.Google.ClientSecret, rt.cfg.Google.TokenDir, account, rt.cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for account %s: %w", account, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown source %q", rt.cfg.Source)
	}
}

func (rt *runtime) newSyncer(dryRun bool, status chan<- syncer.Status) *syncer.Syncer {
	return syncer.NewSyncer(rt.logger, rt.store,
		syncer.WithConcurrency(rt.cfg.UploadConcurrency),
		syncer.WithDryRun(dryRun),
		syncer.WithStatus(status),
	)
}

// horizon is the range of local events shared: today through HorizonDays.
func (rt *runtime) horizon(now time.Time) (time.Time, time.Time) {
	start := reconcile.DayOf(now, rt.cfg.Location).Start(rt.cfg.Location)
	return start, start.AddDate(0, 0, rt.cfg.HorizonDays)
}

// syncOnce reads the local calendars, runs one sync cycle and applies the
// result to state.
func (rt *runtime) syncOnce(ctx context.Context, src syncer.Source, s *syncer.Syncer, state *syncer.SessionState) (syncer.Result, error) {
	sessionCode := state.SessionCode()
	if sessionCode == "" {
		return syncer.Result{}, errors.New("not in a session")
	}
	if len(rt.cfg.Calendars) == 0 {
		rt.logger.Warn("No calendars selected. Set SHAREDCAL_CALENDARS to share events.")
	}

	start, end := rt.horizon(time.Now())
	local, err := syncer.LoadLocal(ctx, src, rt.cfg.Calendars, start, end, rt.ownerID, sessionCode)
	if err != nil {
		return syncer.Result{}, err
	}

	res := s.Sync(ctx, rt.ownerID, sessionCode, local)
	state.Apply(res, time.Now())
	return res, nil
}

// refresh downloads the session without uploading anything.
func (rt *runtime) refresh(ctx context.Context, sessionCode string) (*syncer.SessionState, error) {
	state := syncer.NewSessionState(rt.ownerID, sessionCode)
	res := rt.newSyncer(false, nil).Sync(ctx, rt.ownerID, sessionCode, nil)
	if !res.Refreshed {
		return nil, fmt.Errorf("%w: could not download session %s", errRemoteSetup, sessionCode)
	}
	state.Apply(res, time.Now())
	return state, nil
}

// logStatus forwards sync progress to the logger until ch is closed.
func logStatus(logger *slog.Logger, ch <-chan syncer.Status) {
	for st := range ch {
		logger.Debug("Sync progress", "state", st.State, "message", st.Message)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
