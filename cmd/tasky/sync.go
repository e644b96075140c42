package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskyapp/tasky/internal/daemon"
	"github.com/taskyapp/tasky/internal/dashboard"
	"github.com/taskyapp/tasky/internal/reconcile"
	"github.com/taskyapp/tasky/internal/remote"
)

var syncCmd = &cobra.Command{
	Use:     "sync [date]",
	GroupID: "sync",
	Short:   "Push local changes and pull a day",
	Long: `Run one reconciliation cycle: push every pending local change, then
pull the agenda of the day (default: today) and merge it by last write.

With --reset-day the day's synced items are dropped before the pull, so
the day is rebuilt from the server. Pending changes are never dropped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()
		if _, err := a.requireLogin(); err != nil {
			return err
		}

		var arg string
		if len(args) == 1 {
			arg = args[0]
		}
		day, err := parseDay(arg, time.Now(), a.loc)
		if err != nil {
			return err
		}

		r, err := a.Reconciler(ctx)
		if err != nil {
			return err
		}
		if reset, _ := cmd.Flags().GetBool("reset-day"); reset {
			n, err := a.store.ClearDay(ctx, day)
			if err != nil {
				return err
			}
			a.printf("%s\n", a.ui.Muted(fmt.Sprintf("Cleared %d synced items of %s", n, day.Format("2006-01-02"))))
		}

		res, err := r.Run(ctx, reconcile.Request{Day: day, Location: a.loc})
		if res != nil {
			a.printf("%s\n", a.ui.SyncResult(res))
		}
		switch {
		case err == nil:
			return nil
		case remote.IsRetryable(err):
			return fmt.Errorf("server unreachable, local changes are kept: %w", err)
		case errors.Is(err, remote.ErrUnauthorized):
			return fmt.Errorf("session expired, run 'tasky login': %w", err)
		default:
			return err
		}
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync in the background",
	Long: `Run reconciliation cycles every sync.interval until interrupted.

A login or logout in another terminal is picked up from the settings file
and starts a cycle. Unless --no-dashboard is given, a WebSocket dashboard
reports every cycle:

  ws://localhost:8787/ws      cycle results and item counts
  http://localhost:8787/status daemon status`,
	Annotations: map[string]string{annotationLogStderr: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		r, err := a.Reconciler(cmd.Context())
		if err != nil {
			return err
		}

		d, err := daemon.NewWithConfig(r, a.settings, &daemon.Config{
			Interval:         a.cfg.Sync.Interval,
			DebounceInterval: a.cfg.Sync.Debounce,
			Location:         a.loc,
			SettingsPath:     a.settings.Path(),
			Logger:           a.logger("daemon"),
		})
		if err != nil {
			return err
		}

		if off, _ := cmd.Flags().GetBool("no-dashboard"); !off {
			port := a.cfg.Dashboard.Port
			if cmd.Flags().Changed("port") {
				port, _ = cmd.Flags().GetInt("port")
			}
			server := dashboard.NewServer(&dashboard.Config{
				Port:   port,
				Logger: a.logger("dashboard"),
			})
			handler := dashboard.NewHandler(server, a.store, a.logger("dashboard"))
			server.SetStatus(func() any { return d.Status() })
			d.Subscribe(handler.OnCycle)

			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer func() {
				if err := server.Stop(); err != nil {
					fmt.Fprintf(os.Stderr, "Error during dashboard shutdown: %v\n", err)
				}
			}()
			a.printf("Dashboard: ws://%s/ws (status http://%s/status)\n", server.GetAddr(), server.GetAddr())
		}

		a.printf("Syncing every %v. Press Ctrl+C to stop...\n", a.cfg.Sync.Interval)
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return d.Start(ctx)
	},
}

// statusView is the json shape of 'tasky status'.
type statusView struct {
	User      string    `json:"user,omitempty"`
	Email     string    `json:"email,omitempty"`
	Server    string    `json:"server"`
	Database  string    `json:"database"`
	Total     int       `json:"total"`
	Tasks     int       `json:"tasks"`
	Events    int       `json:"events"`
	Reminders int       `json:"reminders"`
	Pending   int       `json:"pending"`
	Deleted   int       `json:"deleted"`
	Rejected  int       `json:"rejected"`
	LastSync  time.Time `json:"last_sync,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local data and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()
		v, err := collectStatus(ctx, a)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}

		if v.User != "" {
			a.printf("User:      %s <%s>\n", v.User, v.Email)
		} else {
			a.printf("User:      %s\n", a.ui.Warn("not logged in"))
		}
		a.printf("Server:    %s\n", v.Server)
		a.printf("Database:  %s\n", v.Database)
		a.printf("Items:     %d (%d tasks, %d events, %d reminders)\n", v.Total, v.Tasks, v.Events, v.Reminders)
		pending := fmt.Sprintf("%d changes, %d deletions", v.Pending, v.Deleted)
		if v.Pending+v.Deleted > 0 {
			pending = a.ui.Warn(pending)
		}
		a.printf("Pending:   %s\n", pending)
		if v.Rejected > 0 {
			a.printf("Rejected:  %s\n", a.ui.Fail(fmt.Sprintf("%d (edit them to retry)", v.Rejected)))
		}
		last := "never"
		if !v.LastSync.IsZero() {
			last = v.LastSync.In(a.loc).Format("2006-01-02 15:04:05")
		}
		a.printf("Last sync: %s\n", last)
		return nil
	},
}

func collectStatus(ctx context.Context, a *app) (statusView, error) {
	v := statusView{Server: a.cfg.API.BaseURL, Database: a.cfg.Store.Path}
	if info, err := a.requireLogin(); err == nil {
		v.User, v.Email = info.Username, info.Email
	}
	st, err := a.Store(ctx)
	if err != nil {
		return v, err
	}
	c, err := st.Count(ctx)
	if err != nil {
		return v, err
	}
	v.Total, v.Tasks, v.Events, v.Reminders = c.Total(), c.Tasks, c.Events, c.Reminders
	v.Pending, v.Deleted, v.Rejected = c.Pending, c.Deleted, c.Rejected
	if v.LastSync, err = st.Watermark(ctx); err != nil {
		return v, err
	}
	return v, nil
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "List changes resolved by last write",
	Long: `List the conflict log: every time a sync overwrote a pending local
change with a newer server version (remote_won), or ignored an older
server version in favor of a pending local change (local_kept).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")
		st, err := a.Store(ctx)
		if err != nil {
			return err
		}
		cs, err := st.Conflicts(ctx, limit)
		if err != nil {
			return err
		}
		a.printf("%s\n", a.ui.Conflicts(cs))
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("reset-day", false, "Drop the day's synced items before pulling")

	daemonCmd.Flags().Bool("no-dashboard", false, "Do not start the WebSocket dashboard")
	daemonCmd.Flags().IntP("port", "p", 8787, "Dashboard port (default: dashboard.port)")

	statusCmd.Flags().Bool("json", false, "Output JSON")
	conflictsCmd.Flags().IntP("limit", "n", 20, "Number of entries to show")

	rootCmd.AddCommand(syncCmd, daemonCmd, statusCmd, conflictsCmd)
}
