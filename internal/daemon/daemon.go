// Package daemon runs reconciliation in the background.
//
// The daemon:
//  1. Runs a reconciliation cycle on start and then every Interval
//  2. Runs extra cycles on Trigger, coalescing triggers that arrive while
//     a cycle is running into a single follow-up cycle
//  3. Watches the settings file, so a login or logout in another process
//     reloads the session and starts a cycle
//  4. Reports every cycle to its observers (the dashboard)
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskyapp/tasky/internal/reconcile"
)

// Config holds configuration for the daemon.
type Config struct {
	// Interval is how often a cycle runs without a trigger
	Interval time.Duration

	// DebounceInterval is how long the settings file must be quiet before
	// it is reloaded. This batches the writes of a single save together.
	DebounceInterval time.Duration

	// Location sets the day boundaries of the pulled day (default: time.Local)
	Location *time.Location

	// SettingsPath is the settings file to watch (empty = no watch)
	SettingsPath string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         5 * time.Minute,
		DebounceInterval: 250 * time.Millisecond,
		Location:         time.Local,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Reloader re-reads settings from disk. *settings.Service implements it.
type Reloader interface {
	Reload() error
}

// Status is a snapshot of the daemon's progress.
type Status struct {
	Running    bool              `json:"running"`
	Runs       int               `json:"runs"`
	Failures   int               `json:"failures"`
	LastRun    time.Time         `json:"last_run"`
	LastResult *reconcile.Result `json:"last_result,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
}

// Observer is called after every cycle with the cycle's outcome.
type Observer func(res *reconcile.Result, err error)

// Daemon schedules reconciliation cycles.
type Daemon struct {
	reconciler reconcile.Reconciler
	settings   Reloader
	config     *Config

	trigger chan struct{}

	settingsChangedAt time.Time // zero when nothing is queued
	settingsMu        sync.Mutex

	statusMu  sync.RWMutex
	status    Status
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon with the default configuration.
func New(r reconcile.Reconciler, settings Reloader) (*Daemon, error) {
	return NewWithConfig(r, settings, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration. settings may
// be nil when no settings file is watched.
func NewWithConfig(r reconcile.Reconciler, settings Reloader, config *Config) (*Daemon, error) {
	if r == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive (got %v)", config.Interval)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		reconciler: r,
		settings:   settings,
		config:     config,
		trigger:    make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Subscribe registers an observer. Observers run on the daemon's cycle
// goroutine and must not block.
func (d *Daemon) Subscribe(o Observer) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	d.observers = append(d.observers, o)
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Run an initial cycle
// 2. Start watching the settings file, if configured
// 3. Run cycles on the interval and on Trigger
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	var watcher *fsnotify.Watcher
	if d.config.SettingsPath != "" {
		w, err := d.watchSettings()
		if err != nil {
			return err
		}
		watcher = w
	}

	d.setRunning(true)
	d.Trigger()

	d.wg.Add(1)
	go d.cycleLoop()
	if watcher != nil {
		d.wg.Add(2)
		go d.watchSettingsEvents(watcher)
		go d.processSettingsChanges()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		err := d.Stop()
		if watcher != nil {
			_ = watcher.Close()
		}
		return err
	case <-d.ctx.Done():
		d.wg.Wait()
		if watcher != nil {
			_ = watcher.Close()
		}
		return nil
	}
}

// Stop gracefully shuts down the daemon. An in-flight cycle is cancelled.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	// Signal shutdown
	d.cancel()

	// Wait for goroutines to finish
	d.wg.Wait()
	d.setRunning(false)

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Trigger requests a cycle as soon as possible. Triggers made while a
// cycle is pending or running collapse into one follow-up cycle.
func (d *Daemon) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// RunOnce runs a single cycle for the current day and records it.
func (d *Daemon) RunOnce(ctx context.Context) (*reconcile.Result, error) {
	res, err := d.reconciler.Run(ctx, reconcile.Request{Day: time.Now(), Location: d.config.Location})
	if errors.Is(err, reconcile.ErrInFlight) {
		d.config.Logger.Println("Cycle skipped: another reconciliation is running")
		return nil, err
	}

	d.statusMu.Lock()
	d.status.Runs++
	d.status.LastRun = time.Now()
	d.status.LastResult = res
	d.status.LastError = ""
	if err != nil {
		d.status.Failures++
		d.status.LastError = err.Error()
	}
	observers := append([]Observer(nil), d.observers...)
	d.statusMu.Unlock()

	if err != nil {
		d.config.Logger.Printf("Cycle failed: %v", err)
	}
	for _, o := range observers {
		o(res, err)
	}
	return res, err
}

// Status returns a snapshot of the daemon's progress.
func (d *Daemon) Status() Status {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	return d.status
}

func (d *Daemon) setRunning(v bool) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	d.status.Running = v
}

// cycleLoop is the only goroutine that runs cycles.
func (d *Daemon) cycleLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			_, _ = d.RunOnce(d.ctx)

		case <-d.trigger:
			_, _ = d.RunOnce(d.ctx)
		}
	}
}

// watchSettings watches the directory of the settings file, since saves
// replace the file by rename.
func (d *Daemon) watchSettings() (*fsnotify.Watcher, error) {
	dir := filepath.Dir(d.config.SettingsPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch settings directory %s: %w", dir, err)
	}
	d.config.Logger.Printf("Watching: %s", d.config.SettingsPath)
	return watcher, nil
}

// watchSettingsEvents queues changes to the settings file.
func (d *Daemon) watchSettingsEvents(watcher *fsnotify.Watcher) {
	defer d.wg.Done()

	name := filepath.Base(d.config.SettingsPath)
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			d.config.Logger.Printf("Settings event: %s", event.Op)

			d.settingsMu.Lock()
			d.settingsChangedAt = time.Now()
			d.settingsMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processSettingsChanges reloads settings once the file has been quiet
// for DebounceInterval, then triggers a cycle.
func (d *Daemon) processSettingsChanges() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.settingsMu.Lock()
			changed := d.settingsChangedAt
			ready := !changed.IsZero() && time.Since(changed) >= d.config.DebounceInterval
			if ready {
				d.settingsChangedAt = time.Time{}
			}
			d.settingsMu.Unlock()

			if !ready {
				continue
			}
			if d.settings != nil {
				if err := d.settings.Reload(); err != nil {
					d.config.Logger.Printf("Error reloading settings: %v", err)
					continue
				}
			}
			d.config.Logger.Println("Settings changed, starting a cycle")
			d.Trigger()
		}
	}
}
