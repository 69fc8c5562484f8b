// Package daemon keeps a mirror converged by repeating synchronize passes.
//
// The daemon:
//  1. Runs one pass on start
//  2. Repeats the pass on a fixed interval
//  3. For snapshot sources, re-runs the pass when the snapshot directory
//     changes, batching rapid writes with a debounce
//  4. Handles graceful shutdown
//
// Passes never overlap: triggers that arrive while a pass runs coalesce into
// one follow-up pass.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mschirtzinger/asana2sql/internal/project"
	"github.com/Mschirtzinger/asana2sql/internal/snapshot"
)

// Syncer runs one synchronize pass. *project.Project implements it.
type Syncer interface {
	Synchronize(ctx context.Context) (project.Result, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval between scheduled passes. Zero disables the schedule.
	Interval time.Duration

	// Debounce is how long the snapshot directory must be quiet before a
	// change triggers a pass.
	Debounce time.Duration

	// SnapshotDir is watched for changes when set.
	SnapshotDir string

	// OnPass is called after every pass.
	OnPass func(result project.Result, err error)

	Logger *slog.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		Debounce: 500 * time.Millisecond,
	}
}

// Stats counts passes since start.
type Stats struct {
	Passes     int
	Failures   int
	LastResult project.Result
	LastError  string
	LastRun    time.Time
}

// Daemon runs synchronize passes on schedule and on snapshot changes.
type Daemon struct {
	syncer Syncer
	config Config
	logger *slog.Logger

	watcher       *snapshot.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	trigger chan struct{}

	statsMu sync.Mutex
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a daemon. Use Start to begin.
func New(syncer Syncer, config Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config.Interval < 0 {
		return nil, fmt.Errorf("interval cannot be negative")
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		syncer:      syncer,
		config:      config,
		logger:      logger.With("component", "daemon"),
		changeQueue: make(map[string]time.Time),
		trigger:     make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	if config.SnapshotDir != "" {
		w, err := snapshot.NewWatcher()
		if err != nil {
			return nil, err
		}
		d.watcher = w
	}
	return d, nil
}

// Start runs the first pass and then blocks, serving triggers, until ctx is
// cancelled or Stop is called. A failing first pass is returned; later
// failures are logged and counted.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon", "interval", d.config.Interval, "snapshot_dir", d.config.SnapshotDir)

	if err := d.runPass(); err != nil {
		d.Stop()
		return fmt.Errorf("initial sync failed: %w", err)
	}

	if d.watcher != nil {
		if err := d.watcher.Start(d.config.SnapshotDir); err != nil {
			d.Stop()
			return err
		}
		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	d.wg.Add(1)
	go d.runPasses()
	if d.config.Interval > 0 {
		d.wg.Add(1)
		go d.schedule()
	}

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop shuts the daemon down and waits for its goroutines. A pass in flight
// is cancelled.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")
		d.cancel()
		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.logger.Warn("error closing watcher", "error", err)
			}
		}
		d.wg.Wait()
		d.logger.Info("daemon stopped")
	})
	return nil
}

// Trigger requests a pass. It never blocks; pending requests coalesce.
func (d *Daemon) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Stats returns a copy of the pass counters.
func (d *Daemon) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Daemon) runPasses() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.trigger:
			if err := d.runPass(); err != nil {
				d.logger.Warn("sync pass failed", "error", err)
			}
		}
	}
}

func (d *Daemon) runPass() error {
	result, err := d.syncer.Synchronize(d.ctx)

	d.statsMu.Lock()
	d.stats.Passes++
	d.stats.LastRun = time.Now()
	d.stats.LastResult = result
	d.stats.LastError = ""
	if err != nil {
		d.stats.Failures++
		d.stats.LastError = err.Error()
	}
	d.statsMu.Unlock()

	if d.config.OnPass != nil {
		d.config.OnPass(result, err)
	}
	return err
}

func (d *Daemon) schedule() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.Trigger()
		}
	}
}

// watchFileEvents queues snapshot changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.logger.Debug("snapshot changed", "op", event.Op, "kind", event.Kind, "path", event.Path)
			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	d.changeQueue[path] = time.Now()
}

// processChangeQueue triggers a pass once queued changes have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(max(d.config.Debounce/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if d.settled(time.Now()) {
				d.Trigger()
			}
		}
	}
}

// settled reports whether the queue is non-empty and every queued change is
// at least one debounce old. Settled changes are cleared.
func (d *Daemon) settled(now time.Time) bool {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	if len(d.changeQueue) == 0 {
		return false
	}
	for _, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.Debounce {
			return false
		}
	}
	d.logger.Debug("processing snapshot changes", "files", len(d.changeQueue))
	clear(d.changeQueue)
	return true
}
