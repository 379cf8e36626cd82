package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"sharedcal/internal/config"
	"sharedcal/internal/export"
	"sharedcal/internal/freetime"
	"sharedcal/internal/gatekeeper"
	"sharedcal/internal/google"
	"sharedcal/internal/models"
	"sharedcal/internal/prefs"
	"sharedcal/internal/reconcile"
	"sharedcal/internal/server"
	"sharedcal/internal/syncer"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "sharedcal",
		Usage: "Share your calendar with one other person and find free time together.",
		Commands: []*cli.Command{
			authCommand(),
			calendarsCommand(),
			whoamiCommand(),
			joinCommand(),
			syncCommand(),
			freeCommand(),
			scheduleCommand(),
			exportCommand(),
			leaveCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.Google.ClientID, cfg.Google.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			if accountName == "" {
				accountName = "default"
			}
			tokenFile := google.TokenPath(cfg.Google.TokenDir, accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the local calendars that can be shared.",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}

			src, err := rt.openSource(c.Context)
			if err != nil {
				return err
			}
			client, ok := src.(*google.CalendarClient)
			if !ok {
				fmt.Println("Calendar files are selected by path in SHAREDCAL_CALENDARS.")
				return nil
			}

			calendars, err := client.ListCalendars(c.Context)
			if err != nil {
				return err
			}
			for _, cal := range calendars {
				marker := " "
				if slices.Contains(rt.cfg.Calendars, cal.ID) {
					marker = "*"
				}
				fmt.Printf("%s %s\t%s\n", marker, cal.ID, cal.Name)
			}
			return nil
		},
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show this device's identity and the joined session.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "reset", Usage: "Generate a new identity. Events shared under the old one stay in their session."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}

			ownerID := rt.ownerID
			if c.Bool("reset") {
				if ownerID, err = prefs.ResetIdentity(rt.cfg.StateFile); err != nil {
					return err
				}
				rt.logger.Info("Identity reset.", "ownerID", ownerID)
			}

			p, err := prefs.Load(rt.cfg.StateFile)
			if err != nil {
				return err
			}
			fmt.Printf("User ID: %s\n", ownerID)
			if p.SavedSessionCode != "" {
				fmt.Printf("Session: %s\n", p.SavedSessionCode)
			} else {
				fmt.Println("Session: (none)")
			}
			return nil
		},
	}
}

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:      "join",
		Usage:     "Join a shared session if it has room.",
		ArgsUsage: "CODE",
		Action: func(c *cli.Context) error {
			code := strings.TrimSpace(c.Args().First())
			if code == "" {
				return errors.New("a session code is required")
			}

			rt, err := newRuntime()
			if err != nil {
				return err
			}
			if err := rt.openStore(c.Context); err != nil {
				return err
			}
			defer rt.Close()

			gk := gatekeeper.New(rt.logger, rt.store,
				gatekeeper.WithCapacity(rt.cfg.SessionCapacity),
				gatekeeper.WithSampleSize(rt.cfg.SessionSampleSize),
			)
			decision := gk.CheckAvailability(c.Context, code, rt.ownerID)
			fmt.Println(decision.Message())
			if !decision.Allowed {
				return decision.Err
			}

			if err := prefs.SaveSessionCode(rt.cfg.StateFile, code); err != nil {
				return fmt.Errorf("failed to save session: %w", err)
			}
			rt.logger.Info("Joined session.", "session", code, "reason", decision.Reason)
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Share local events with the session and download the partner's.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be shared without making changes."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Run sync every N seconds."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			sessionCode, err := rt.savedSession()
			if err != nil {
				return err
			}

			if c.Bool("dry-run") {
				rt.logger.Info("Performing a dry run. No changes will be made.")
			}

			if err := rt.openStore(c.Context); err != nil {
				return err
			}
			defer rt.Close()
			src, err := rt.openSource(c.Context)
			if err != nil {
				return err
			}

			status := make(chan syncer.Status, 8)
			go logStatus(rt.logger, status)

			s := rt.newSyncer(c.Bool("dry-run"), status)
			state := syncer.NewSessionState(rt.ownerID, sessionCode)

			// --watch keeps running until interrupted
			if c.IsSet("watch") {
				ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
				defer stop()

				if c.Int("watch") <= 0 {
					return fmt.Errorf("--watch must be a positive number of seconds")
				}
				interval := time.Duration(c.Int("watch")) * time.Second
				rt.logger.Info("Starting watcher.", "interval", interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					res, err := rt.syncOnce(ctx, src, s, state)
					if err != nil {
						rt.logger.Error("Sync cycle failed", "error", err)
					} else {
						fmt.Println(res.Message())
					}

					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			}

			rt.logger.Info("Running a single sync cycle.")
			res, err := rt.syncOnce(c.Context, src, s, state)
			if err != nil {
				return fmt.Errorf("single sync cycle failed: %w", err)
			}
			fmt.Println(res.Message())
			return nil
		},
	}
}

func freeCommand() *cli.Command {
	return &cli.Command{
		Name:  "free",
		Usage: "Show the times of a day when neither of you is busy.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "Day to check as YYYY-MM-DD. Defaults to today."},
		},
		Action: func(c *cli.Context) error {
			rt, state, err := openSession(c.Context)
			if err != nil {
				return err
			}
			defer rt.Close()

			loc := rt.cfg.Location
			day := reconcile.DayOf(time.Now(), loc)
			if raw := c.String("date"); raw != "" {
				if day, err = reconcile.ParseDay(raw); err != nil {
					return err
				}
			}

			mine, partner := state.Events()
			busy := append(mine, partner...)
			windowStart, windowEnd := freetime.Window(day, loc, rt.cfg.WorkdayStart, rt.cfg.WorkdayEnd)
			slots := freetime.FreeSlots(day.Start(loc), busy, windowStart, windowEnd)

			fmt.Printf("Free time on %s (%s-%s):\n", day, rt.cfg.WorkdayStart, rt.cfg.WorkdayEnd)
			if len(slots) == 0 {
				fmt.Println("  No free time.")
			}
			for _, slot := range slots {
				fmt.Printf("  %s (%s)\n", slot, slot.Duration())
			}
			return nil
		},
	}
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Show both calendars side by side, day by day.",
		Action: func(c *cli.Context) error {
			rt, state, err := openSession(c.Context)
			if err != nil {
				return err
			}
			defer rt.Close()

			schedule := state.Schedule(rt.cfg.Location)
			if schedule.Len() == 0 {
				fmt.Println("No events in this session yet.")
				return nil
			}
			for day, events := range schedule.All() {
				fmt.Println(day)
				printEvents(os.Stdout, "me", events.Mine, rt.cfg.Location)
				printEvents(os.Stdout, "partner", events.Others, rt.cfg.Location)
			}
			return nil
		},
	}
}

func printEvents(w io.Writer, who string, events []models.EventRecord, loc *time.Location) {
	for _, ev := range events {
		when := "all day    "
		if !ev.IsAllDay {
			when = fmt.Sprintf("%s-%s", ev.StartDate.In(loc).Format("15:04"), ev.EndDate.In(loc).Format("15:04"))
		}
		fmt.Fprintf(w, "  %s  %-8s %s\n", when, who, ev.Title)
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the session's events as an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file. Defaults to stdout."},
		},
		Action: func(c *cli.Context) error {
			rt, state, err := openSession(c.Context)
			if err != nil {
				return err
			}
			defer rt.Close()

			mine, partner := state.Events()
			records := append(mine, partner...)
			reconcile.SortByStart(records)

			var w io.Writer = os.Stdout
			if out := c.String("out"); out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			if err := export.WriteICS(w, records, rt.ownerID, rt.cfg.Location, time.Now()); err != nil {
				return err
			}
			rt.logger.Info("Exported session events.", "count", len(records))
			return nil
		},
	}
}

func leaveCommand() *cli.Command {
	return &cli.Command{
		Name:  "leave",
		Usage: "Leave the session and delete the events you shared.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "keep-remote", Usage: "Only forget the session locally; shared events stay."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			sessionCode, err := rt.savedSession()
			if err != nil {
				return err
			}

			if !c.Bool("keep-remote") {
				if err := rt.openStore(c.Context); err != nil {
					return err
				}
				defer rt.Close()

				state, err := rt.refresh(c.Context, sessionCode)
				if err != nil {
					return err
				}
				<-state.Leave(c.Context, rt.newSyncer(false, nil))
			}

			if err := prefs.SaveSessionCode(rt.cfg.StateFile, ""); err != nil {
				return fmt.Errorf("failed to forget session: %w", err)
			}
			fmt.Printf("Left session %s.\n", sessionCode)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Sync on a schedule and serve the session over HTTP.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "Listen address. Overrides LISTEN_ADDR."},
			&cli.StringFlag{Name: "schedule", Usage: "Cron schedule for syncs. Overrides SYNC_SCHEDULE."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			sessionCode, err := rt.savedSession()
			if err != nil {
				return err
			}
			if err := rt.openStore(c.Context); err != nil {
				return err
			}
			defer rt.Close()
			src, err := rt.openSource(c.Context)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			status := make(chan syncer.Status, 8)
			go logStatus(rt.logger, status)

			s := rt.newSyncer(false, status)
			state := syncer.NewSessionState(rt.ownerID, sessionCode)
			srv := server.New(server.Config{
				Logger: rt.logger,
				State:  state,
				Sync: func(ctx context.Context) (syncer.Result, error) {
					return rt.syncOnce(ctx, src, s, state)
				},
				Location:     rt.cfg.Location,
				WorkdayStart: rt.cfg.WorkdayStart,
				WorkdayEnd:   rt.cfg.WorkdayEnd,
			})

			runSync := func() {
				res, err := srv.Sync(ctx)
				switch {
				case errors.Is(err, server.ErrSyncInProgress):
					rt.logger.Info("Skipping scheduled sync, one is already running.")
				case err != nil:
					rt.logger.Error("Scheduled sync failed", "error", err)
				default:
					rt.logger.Info(res.Message())
				}
			}

			schedule := rt.cfg.SyncSchedule
			if c.IsSet("schedule") {
				schedule = c.String("schedule")
			}
			scheduler := cron.New(cron.WithLocation(rt.cfg.Location))
			if _, err := scheduler.AddFunc(schedule, runSync); err != nil {
				return fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
			}
			scheduler.Start()

			initial := make(chan struct{})
			go func() {
				defer close(initial)
				runSync()
			}()

			addr := rt.cfg.ListenAddr
			if c.IsSet("listen") {
				addr = c.String("listen")
			}
			err = srv.ListenAndServe(ctx, addr)

			// Handlers may outlive the shutdown timeout; the status channel
			// is closed only once no sync can still emit on it.
			<-scheduler.Stop().Done()
			<-initial
			srv.Drain()
			close(status)
			return err
		},
	}
}

// openSession loads the joined session from the remote store.
func openSession(ctx context.Context) (*runtime, *syncer.SessionState, error) {
	rt, err := newRuntime()
	if err != nil {
		return nil, nil, err
	}
	sessionCode, err := rt.savedSession()
	if err != nil {
		return nil, nil, err
	}
	if err := rt.openStore(ctx); err != nil {
		return nil, nil, err
	}

	state, err := rt.refresh(ctx, sessionCode)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return rt, state, nil
}
