package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ForetagInc/surrealkit/internal/schema"
)

// MinDebounce is the shortest accepted debounce window.
const MinDebounce = 250 * time.Millisecond

// Trigger is a request to re-run a sync.
type Trigger struct {
	Reason string
	At     time.Time
}

// triggerCell is a single-slot pending trigger. A newer trigger replaces
// the pending one, so a burst of file events collapses into one run that
// reports the latest reason.
//
// The signal channel (buffered, size 1) coalesces notifications and lets
// the loop wait with select, so cancellation never hangs.
type triggerCell struct {
	mu      sync.Mutex
	pending *Trigger
	running bool
	closed  bool
	signal  chan struct{}
}

func newTriggerCell() *triggerCell {
	return &triggerCell{signal: make(chan struct{}, 1)}
}

// Put stores t as the pending trigger. Returns false once closed.
func (c *triggerCell) Put(t Trigger) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.pending = &t

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return true
}

// Take removes the pending trigger and marks a run as started.
func (c *triggerCell) Take() (Trigger, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return Trigger{}, false
	}
	t := *c.pending
	c.pending = nil
	c.running = true
	return t, true
}

// Done marks the current run as finished.
func (c *triggerCell) Done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

func (c *triggerCell) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *triggerCell) Wait() <-chan struct{} {
	return c.signal
}

// Close wakes the loop and rejects further triggers.
func (c *triggerCell) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.signal)
}

// Loop runs one function at a time in response to triggers. Triggers that
// arrive during a run are held (latest wins) and start exactly one more run
// after it finishes.
type Loop struct {
	debounce time.Duration
	run      func(context.Context, Trigger) error
	logger   *slog.Logger
	cell     *triggerCell

	// Ran is called after every run; tests use it to observe progress.
	Ran func(Trigger, error)
}

// NewLoop returns a Loop. Windows shorter than MinDebounce are raised to it.
func NewLoop(debounce time.Duration, run func(context.Context, Trigger) error, logger *slog.Logger) *Loop {
	if debounce < MinDebounce {
		debounce = MinDebounce
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loop{debounce: debounce, run: run, logger: logger, cell: newTriggerCell()}
}

// Debounce returns the effective debounce window.
func (l *Loop) Debounce() time.Duration { return l.debounce }

// Notify records a trigger. Safe to call from any goroutine.
func (l *Loop) Notify(reason string) {
	l.cell.Put(Trigger{Reason: reason, At: time.Now()})
}

// Running reports whether a run is in progress.
func (l *Loop) Running() bool { return l.cell.Running() }

// Close stops the loop after the current run.
func (l *Loop) Close() { l.cell.Close() }

// Serve processes triggers until ctx is cancelled or the loop is closed.
// Run errors are logged and do not stop the loop.
func (l *Loop) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-l.cell.Wait():
			if !ok {
				return nil
			}
		}

		if err := l.settle(ctx); err != nil {
			return err
		}

		t, ok := l.cell.Take()
		if !ok {
			continue
		}
		err := l.run(ctx, t)
		l.cell.Done()
		if err != nil {
			l.logger.Error("watch run failed", "reason", t.Reason, "error", err)
		}
		if l.Ran != nil {
			l.Ran(t, err)
		}
	}
}

// settle waits until no trigger has arrived for one debounce window.
func (l *Loop) settle(ctx context.Context) error {
	timer := time.NewTimer(l.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-l.cell.Wait():
			if !ok {
				return nil
			}
			timer.Reset(l.debounce)
		case <-timer.C:
			return nil
		}
	}
}

// WatchOptions controls Watch.
type WatchOptions struct {
	Debounce time.Duration
	Sync     SyncOptions
}

// Watch syncs once, then re-syncs whenever a schema file changes, until ctx
// is cancelled.
func (r *Reconciler) Watch(ctx context.Context, opts WatchOptions) error {
	if err := r.requireDB("watch"); err != nil {
		return err
	}
	run := func(ctx context.Context, t Trigger) error {
		r.Logger.Info("schema change detected", "reason", t.Reason)
		res, err := r.Sync(ctx, opts.Sync)
		if err == nil {
			r.Logger.Info("watch sync", "changes", res.ChangeSet.Summary())
		}
		return err
	}
	if err := run(ctx, Trigger{Reason: "initial sync", At: r.Now()}); err != nil {
		r.Logger.Error("initial sync failed", "error", err)
	}

	loop := NewLoop(opts.Debounce, run, r.Logger)
	w, err := newSchemaWatcher(r.Paths.Schema, r.Logger)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.Forward(ctx, loop.Notify) }()

	r.Logger.Info("watching schema", "dir", r.Paths.Schema, "debounce", loop.Debounce())
	err = loop.Serve(ctx)
	cancel()
	if werr := <-errc; werr != nil && !errors.Is(werr, context.Canceled) {
		return werr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// schemaWatcher forwards .surql file events from a directory tree.
// fsnotify is not recursive, so subdirectories are added as they appear.
type schemaWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

func newSchemaWatcher(root string, logger *slog.Logger) (*schemaWatcher, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", root, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start file watcher: %w", err)
	}
	w := &schemaWatcher{root: root, watcher: fw, logger: logger}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *schemaWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Forward calls notify with a reason for every relevant event until ctx is
// cancelled.
func (w *schemaWatcher) Forward(ctx context.Context, notify func(string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
					}
					notify("directory added: " + w.rel(ev.Name))
					continue
				}
			}
			if ev.Op == fsnotify.Chmod || !strings.EqualFold(filepath.Ext(ev.Name), schema.Extension) {
				continue
			}
			notify(opName(ev.Op) + " " + w.rel(ev.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *schemaWatcher) rel(path string) string {
	if rel, err := filepath.Rel(w.root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

func (w *schemaWatcher) Close() error {
	return w.watcher.Close()
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "created"
	case op.Has(fsnotify.Remove):
		return "removed"
	case op.Has(fsnotify.Rename):
		return "renamed"
	default:
		return "modified"
	}
}
