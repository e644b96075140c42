package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskyapp/tasky/internal/agendaview"
	"github.com/taskyapp/tasky/internal/config"
	"github.com/taskyapp/tasky/internal/logging"
	"github.com/taskyapp/tasky/internal/reconcile"
	"github.com/taskyapp/tasky/internal/remote"
	"github.com/taskyapp/tasky/internal/settings"
	"github.com/taskyapp/tasky/internal/store"
	"github.com/taskyapp/tasky/internal/ui"
)

// annotationLogStderr marks long-running commands that always log to
// stderr, not only with --verbose.
const annotationLogStderr = "log-stderr"

// app holds the resources of one command invocation. Resources are
// opened on first use.
type app struct {
	cfg  *config.Config
	logs *logging.Logging
	loc  *time.Location
	out  io.Writer
	ui   *ui.Renderer

	settings *settings.Service
	store    *store.Store
	client   *remote.Client
}

var current *app

func setupApp(cmd *cobra.Command) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	logs, err := logging.Setup(logging.Config{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Verbose:    verbose,
		Quiet:      !verbose && cmd.Annotations[annotationLogStderr] == "",
		Stderr:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	current = &app{
		cfg:  cfg,
		logs: logs,
		loc:  loc,
		out:  out,
		ui:   ui.NewRenderer(out, loc, ui.Options{NoColor: noColor}),
	}
	return nil
}

func closeApp() error {
	a := current
	current = nil
	if a == nil {
		return nil
	}
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.settings != nil {
		errs = append(errs, a.settings.Close())
	}
	errs = append(errs, a.logs.Close())
	return errors.Join(errs...)
}

func (a *app) logger(component string) *log.Logger {
	return a.logs.New(component)
}

// Settings opens the settings file.
func (a *app) Settings() (*settings.Service, error) {
	if a.settings != nil {
		return a.settings, nil
	}
	s, err := settings.Open(a.cfg.Settings.Path)
	if err != nil {
		return nil, err
	}
	if err := s.Init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	a.settings = s
	return s, nil
}

// Store opens the local database.
func (a *app) Store(ctx context.Context) (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	st, err := store.OpenAndInit(ctx, a.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	a.store = st
	return st, nil
}

// Client builds the API client. Tokens come from the settings file.
func (a *app) Client() (*remote.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	s, err := a.Settings()
	if err != nil {
		return nil, err
	}
	c, err := remote.New(remote.Config{
		BaseURL:     a.cfg.API.BaseURL,
		APIKey:      a.cfg.API.Key,
		Timeout:     a.cfg.API.Timeout,
		Credentials: s,
		Logger:      a.logger("remote"),
	})
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// Reconciler builds a reconciler over the local store and the API.
func (a *app) Reconciler(ctx context.Context) (reconcile.Reconciler, error) {
	st, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	c, err := a.Client()
	if err != nil {
		return nil, err
	}
	return reconcile.New(st, c, reconcile.Options{Logger: a.logger("sync")}), nil
}

// Model builds and loads the agenda view model.
func (a *app) Model(ctx context.Context) (*agendaview.Model, error) {
	r, err := a.Reconciler(ctx)
	if err != nil {
		return nil, err
	}
	s, err := a.Settings()
	if err != nil {
		return nil, err
	}
	m := agendaview.New(agendaview.Options{
		Store:      a.store,
		Reconciler: r,
		Session:    s,
		Auth:       a.client,
		Location:   a.loc,
		Logger:     a.logger("agenda"),
	})
	if err := m.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load agenda: %w", err)
	}
	return m, nil
}

// requireLogin fails unless a session is stored.
func (a *app) requireLogin() (settings.AuthInfo, error) {
	s, err := a.Settings()
	if err != nil {
		return settings.AuthInfo{}, err
	}
	info, ok := s.AuthInfo()
	if !ok {
		return settings.AuthInfo{}, settings.ErrNotLoggedIn
	}
	return info, nil
}

// printf writes to the command output.
func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// drainToasts prints the model's pending toasts.
func (a *app) drainToasts(m *agendaview.Model) {
	for _, ev := range m.Events().Drain() {
		if ev.Kind == agendaview.ShowToast {
			a.printf("%s %s\n", a.ui.Warn("!"), ev.Message)
		}
	}
}
