package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	catsync "github.com/steveyegge/catalogsync/internal/catalog/sync"
)

// Run reasons passed to Trigger and recorded in the state file.
const (
	ReasonSchedule    = "schedule"
	ReasonStartup     = "startup"
	ReasonFeedChanged = "feed changed"
	ReasonManual      = "manual"
)

// Config holds configuration for the daemon.
type Config struct {
	// DailyRunTime is the HH:MM wall-clock time of the daily run.
	DailyRunTime string

	// PollInterval is how often the clock is checked against the next run time.
	PollInterval time.Duration

	// Location interprets DailyRunTime (default: time.Local).
	Location *time.Location

	// RunOnStart runs one reconciliation as soon as the daemon starts.
	RunOnStart bool

	// WatchFeed triggers a run when the feed file changes.
	WatchFeed bool

	// DebounceInterval is how long the feed must stay quiet before a
	// watcher-triggered run. This batches rapid writes together.
	DebounceInterval time.Duration

	// StateFile receives the last-run state after every run (empty: disabled).
	StateFile string

	// Logger for daemon activity (default: slog.Default()).
	Logger *slog.Logger

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DailyRunTime:     "01:00",
		PollInterval:     time.Second,
		Location:         time.Local,
		DebounceInterval: 500 * time.Millisecond,
		StateFile:        ".catalogsync/state.toml",
		Logger:           slog.Default(),
		Now:              time.Now,
	}
}

// State is the worker's run state.
type State int32

const (
	// StateIdle means no run is in progress.
	StateIdle State = iota
	// StateRunning means a reconciliation is in progress.
	StateRunning
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

type runRequest struct {
	reason string
}

// Daemon triggers feed reconciliations on a daily schedule.
//
// A single worker goroutine owns the reconciler. Triggers that arrive while
// it is busy are dropped, never queued.
type Daemon struct {
	rec      catsync.Reconciler
	feedPath string
	config   *Config
	at       DailyTime
	logger   *slog.Logger

	requests chan runRequest
	state    atomic.Int32
	runs     atomic.Int64

	mu      sync.Mutex
	nextRun time.Time
	lastRun *RunState

	watcher *FeedWatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon with the default configuration.
//
// Use Start() to begin scheduling.
func New(rec catsync.Reconciler, feedPath string) (*Daemon, error) {
	return NewWithConfig(rec, feedPath, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration. Zero fields in
// config take their defaults.
func NewWithConfig(rec catsync.Reconciler, feedPath string, config *Config) (*Daemon, error) {
	if rec == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if feedPath == "" {
		return nil, fmt.Errorf("feedPath cannot be empty")
	}

	cfg := *DefaultConfig()
	if config != nil {
		cfg = *config
		def := DefaultConfig()
		if cfg.DailyRunTime == "" {
			cfg.DailyRunTime = def.DailyRunTime
		}
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.Location == nil {
			cfg.Location = def.Location
		}
		if cfg.DebounceInterval <= 0 {
			cfg.DebounceInterval = def.DebounceInterval
		}
		if cfg.Logger == nil {
			cfg.Logger = def.Logger
		}
		if cfg.Now == nil {
			cfg.Now = def.Now
		}
	}

	at, err := ParseDailyTime(cfg.DailyRunTime)
	if err != nil {
		return nil, err
	}

	var watcher *FeedWatcher
	if cfg.WatchFeed {
		watcher, err = NewFeedWatcher()
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		rec:      rec,
		feedPath: feedPath,
		config:   &cfg,
		at:       at,
		logger:   cfg.Logger.With("component", "daemon"),
		requests: make(chan runRequest),
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins scheduling.
//
// The daemon will:
// 1. Run once immediately if RunOnStart is set
// 2. Check the clock every PollInterval and trigger the daily run
// 3. Trigger runs on feed changes if WatchFeed is set
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	now := d.config.Now()
	d.setNextRun(d.at.Next(now, d.config.Location))
	d.logger.Info("daemon starting",
		"feed", d.feedPath,
		"daily_run_time", d.at.String(),
		"next_run", d.NextRun(),
	)

	if d.watcher != nil {
		if err := d.watcher.Start(d.feedPath); err != nil {
			d.cancel()
			return fmt.Errorf("failed to watch feed: %w", err)
		}
		d.wg.Add(1)
		go d.watchFeed()
	}

	d.wg.Add(2)
	go d.worker()
	go d.pollSchedule()

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop cancels any in-flight run and waits for the daemon's goroutines.
func (d *Daemon) Stop() error {
	d.logger.Info("daemon stopping")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn("error closing watcher", "error", err)
		}
	}

	d.wg.Wait()

	d.logger.Info("daemon stopped")
	return nil
}

// Trigger requests an immediate run. It returns false, and the request is
// dropped, if a run is already in progress.
func (d *Daemon) Trigger(reason string) bool {
	select {
	case d.requests <- runRequest{reason: reason}:
		return true
	case <-d.ctx.Done():
		return false
	default:
		d.logger.Warn("run skipped: previous run still in progress", "reason", reason)
		return false
	}
}

// State returns the worker's current state.
func (d *Daemon) State() State {
	return State(d.state.Load())
}

// Runs returns the number of completed runs.
func (d *Daemon) Runs() int64 {
	return d.runs.Load()
}

// NextRun returns the next scheduled run time.
func (d *Daemon) NextRun() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextRun
}

// LastRun returns the state of the most recent run, or nil.
func (d *Daemon) LastRun() *RunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRun
}

func (d *Daemon) setNextRun(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextRun = t
}

// worker executes run requests one at a time.
func (d *Daemon) worker() {
	defer d.wg.Done()

	if d.config.RunOnStart {
		d.run(ReasonStartup)
	}

	for {
		select {
		case <-d.ctx.Done():
			return
		case req := <-d.requests:
			d.run(req.reason)
		}
	}
}

// pollSchedule fires the daily run when the clock reaches it.
func (d *Daemon) pollSchedule() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.tick(d.config.Now())
		}
	}
}

// tick fires at most once per due time and advances the next run time.
func (d *Daemon) tick(now time.Time) {
	if now.Before(d.NextRun()) {
		return
	}

	d.Trigger(ReasonSchedule)

	next := d.at.Next(now, d.config.Location)
	d.setNextRun(next)
	d.logger.Info("next run scheduled", "next_run", next)
}

// watchFeed debounces feed events into run triggers.
func (d *Daemon) watchFeed() {
	defer d.wg.Done()

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.logger.Debug("feed event", "op", event.Op.String(), "path", event.Path)
			if event.Op == OpDelete {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(d.config.DebounceInterval)
			} else {
				timer.Reset(d.config.DebounceInterval)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			d.Trigger(ReasonFeedChanged)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.logger.Warn("feed watcher error", "error", err)
		}
	}
}

// run performs one reconciliation and records its outcome.
func (d *Daemon) run(reason string) {
	d.state.Store(int32(StateRunning))
	defer d.state.Store(int32(StateIdle))

	d.logger.Info("run starting", "reason", reason)

	summary, err := d.rec.SyncFeed(d.ctx, d.feedPath)

	st := NewRunState(reason, summary, err)
	st.NextRun = d.NextRun()
	if err != nil {
		d.logger.Error("run failed", "reason", reason, "run_id", st.RunID, "error", err)
	} else {
		d.logger.Info("run finished", "reason", reason, "run_id", st.RunID, "outcome", st.Outcome)
	}

	if d.config.StateFile != "" {
		if err := WriteState(d.config.StateFile, st); err != nil {
			d.logger.Warn("failed to write state file", "path", d.config.StateFile, "error", err)
		}
	}

	d.mu.Lock()
	d.lastRun = st
	d.mu.Unlock()
	d.runs.Add(1)
}
