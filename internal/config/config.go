// Package config reads the runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"sharedcal/internal/freetime"
	"sharedcal/internal/gatekeeper"
	"sharedcal/internal/syncer"
)

// Remote store backends.
const (
	StoreSQLite = "sqlite"
	StoreCalDAV = "caldav"
	StoreMemory = "memory"
)

// Local event sources.
const (
	SourceGoogle = "google"
	SourceICS    = "ics"
)

type Config struct {
	LogLevel  string
	Location  *time.Location
	StateFile string

	Store  string
	DBPath string

	CalDAV struct {
		URL          string
		Username     string
		Password     string
		CalendarName string
	}

	Source    string
	Calendars []string

	Google struct {
		ClientID     string
		ClientSecret string
		Account      string
		TokenDir     string
	}

	HorizonDays  int
	WorkdayStart freetime.ClockTime
	WorkdayEnd   freetime.ClockTime

	SessionCapacity   int
	SessionSampleSize int
	UploadConcurrency int

	SyncSchedule string
	ListenAddr   string
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	cfg.Location = time.Local
	if tz := os.Getenv("PRIMARY_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid PRIMARY_TIMEZONE %q: %w", tz, err)
		}
		cfg.Location = loc
	}

	dataDir := defaultDataDir()
	cfg.StateFile = getenvDefault("SHAREDCAL_STATE_FILE", filepath.Join(dataDir, "state.yaml"))
	cfg.Store = strings.ToLower(getenvDefault("SHAREDCAL_STORE", StoreSQLite))
	cfg.DBPath = getenvDefault("SHAREDCAL_DB_PATH", filepath.Join(dataDir, "sharedcal.db"))

	cfg.CalDAV.URL = os.Getenv("CALDAV_URL")
	cfg.CalDAV.Username = os.Getenv("CALDAV_USERNAME")
	cfg.CalDAV.Password = os.Getenv("CALDAV_PASSWORD")
	cfg.CalDAV.CalendarName = getenvDefault("CALDAV_CALENDAR_NAME", "Shared")

	cfg.Source = strings.ToLower(getenvDefault("SHAREDCAL_SOURCE", SourceGoogle))
	cfg.Calendars = getenvList("SHAREDCAL_CALENDARS")

	cfg.Google.ClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.Google.Account = os.Getenv("GOOGLE_ACCOUNT")
	cfg.Google.TokenDir = getenvDefault("GOOGLE_TOKEN_DIR", ".")

	cfg.SyncSchedule = getenvDefault("SYNC_SCHEDULE", "*/5 * * * *")
	cfg.ListenAddr = getenvDefault("LISTEN_ADDR", "127.0.0.1:8088")

	var err error
	if cfg.HorizonDays, err = getenvInt("SHAREDCAL_HORIZON_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.SessionCapacity, err = getenvInt("SESSION_CAPACITY", gatekeeper.DefaultCapacity); err != nil {
		return nil, err
	}
	if cfg.SessionSampleSize, err = getenvInt("SESSION_SAMPLE_SIZE", gatekeeper.DefaultSampleSize); err != nil {
		return nil, err
	}
	if cfg.UploadConcurrency, err = getenvInt("UPLOAD_CONCURRENCY", syncer.DefaultConcurrency); err != nil {
		return nil, err
	}
	if cfg.WorkdayStart, err = freetime.ParseClock(getenvDefault("WORKDAY_START", "07:00")); err != nil {
		return nil, fmt.Errorf("WORKDAY_START: %w", err)
	}
	if cfg.WorkdayEnd, err = freetime.ParseClock(getenvDefault("WORKDAY_END", "22:00")); err != nil {
		return nil, fmt.Errorf("WORKDAY_END: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreSQLite, StoreMemory:
	case StoreCalDAV:
		if c.CalDAV.Username == "" || c.CalDAV.Password == "" {
			return errors.New("CALDAV_USERNAME and CALDAV_PASSWORD are required for the caldav store")
		}
	default:
		return fmt.Errorf("unknown SHAREDCAL_STORE %q (want sqlite, caldav or memory)", c.Store)
	}

	switch c.Source {
	case SourceGoogle, SourceICS:
	default:
		return fmt.Errorf("unknown SHAREDCAL_SOURCE %q (want google or ics)", c.Source)
	}

	if c.HorizonDays <= 0 {
		return fmt.Errorf("SHAREDCAL_HORIZON_DAYS must be positive (got %d)", c.HorizonDays)
	}
	if c.SessionCapacity <= 0 || c.SessionSampleSize <= 0 || c.UploadConcurrency <= 0 {
		return errors.New("SESSION_CAPACITY, SESSION_SAMPLE_SIZE and UPLOAD_CONCURRENCY must be positive")
	}
	if minutes(c.WorkdayStart) >= minutes(c.WorkdayEnd) {
		return fmt.Errorf("WORKDAY_START %s must be before WORKDAY_END %s", c.WorkdayStart, c.WorkdayEnd)
	}
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		return fmt.Errorf("invalid SYNC_SCHEDULE %q: %w", c.SyncSchedule, err)
	}
	return nil
}

func minutes(c freetime.ClockTime) int {
	return c.Hour*60 + c.Minute
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sharedcal")
	}
	return "."
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
