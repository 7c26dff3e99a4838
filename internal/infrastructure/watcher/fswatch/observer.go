// Package fswatch implements C2: a debounced filesystem observer. Raw
// changes arrive from fsnotify; a per-key timer map coalesces bursts into a
// single settled event per path per debounce window, mirroring the
// reset-on-write coalescing idiom used for off-thread snapshot rebuilds
// elsewhere in the corpus (pending-change counters drained by a single
// settle loop rather than reacting to every raw event).
package fswatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kirillkom/repowatch/internal/core/domain"
)

var systemDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true, "build": true,
	"target": true, "coverage": true, "__pycache__": true, "vendor": true,
	".vscode": true, ".idea": true, ".next": true, "out": true,
	".cache": true, ".svn": true, ".hg": true,
}

type Config struct {
	RootPath           string
	Depth              int
	DebounceDelay      time.Duration
	StabilityThreshold time.Duration
	// UnhealthyAfter is the number of permission errors tolerated before the
	// observer transitions to unhealthy and stops.
	UnhealthyAfter int
}

func (c Config) normalize() Config {
	if c.Depth <= 0 {
		c.Depth = 1
	}
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = 2000 * time.Millisecond
	}
	if c.StabilityThreshold <= 0 {
		c.StabilityThreshold = 2000 * time.Millisecond
	}
	if c.UnhealthyAfter <= 0 {
		c.UnhealthyAfter = 20
	}
	return c
}

// Observer watches Config.RootPath to Config.Depth, emitting at most one
// DirectoryEvent per target path per debounce window.
type Observer struct {
	cfg     Config
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]domain.DirectoryEvent

	permissionErrs int
	healthy        bool

	events chan domain.DirectoryEvent
}

func New(cfg Config, logger *slog.Logger) (*Observer, error) {
	cfg = cfg.normalize()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "fswatch.new", err)
	}
	o := &Observer{
		cfg:     cfg,
		watcher: w,
		logger:  logger,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]domain.DirectoryEvent),
		healthy: true,
		events:  make(chan domain.DirectoryEvent, 256),
	}
	return o, nil
}

// Events returns the channel of settled directory events. The channel is
// closed when Run returns.
func (o *Observer) Events() <-chan domain.DirectoryEvent {
	return o.events
}

func (o *Observer) Healthy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.healthy
}

// Run watches the configured root to Config.Depth and blocks until ctx is
// cancelled. Symbolic links are not followed.
func (o *Observer) Run(ctx context.Context) error {
	defer close(o.events)

	if err := o.addTree(o.cfg.RootPath, 0); err != nil {
		return domain.WrapError(domain.ErrTemporary, "fswatch.run", err)
	}

	for {
		select {
		case <-ctx.Done():
			o.flushAll()
			return o.watcher.Close()
		case ev, ok := <-o.watcher.Events:
			if !ok {
				return nil
			}
			o.handleRaw(ev)
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return nil
			}
			o.recordError(err)
		}
	}
}

func (o *Observer) addTree(root string, depth int) error {
	if depth > o.cfg.Depth {
		return nil
	}
	if err := o.watcher.Add(root); err != nil {
		return err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		o.recordError(err)
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() || systemDirs[e.Name()] || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		_ = o.addTree(filepath.Join(root, e.Name()), depth+1)
	}
	return nil
}

func (o *Observer) handleRaw(ev fsnotify.Event) {
	target := immediateChildOfRoot(o.cfg.RootPath, ev.Name)
	if target == "" {
		return
	}
	base := filepath.Base(target)
	if base == filepath.Base(o.cfg.RootPath) || systemDirs[base] {
		return
	}

	removed := ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	o.schedule(domain.DirectoryEvent{Path: target, Removed: removed})
}

// immediateChildOfRoot returns the path of root's depth-1 child that name
// falls under, or "" if name is not beneath root.
func immediateChildOfRoot(root, name string) string {
	rel, err := filepath.Rel(root, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	if rel == "." {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	return filepath.Join(root, parts[0])
}

// schedule implements the per-key reset-on-write debounce: any pending
// timer for this key is cancelled and a new one scheduled DebounceDelay in
// the future, carrying the latest payload.
func (o *Observer) schedule(ev domain.DirectoryEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending[ev.Path] = ev
	if t, ok := o.timers[ev.Path]; ok {
		t.Stop()
	}
	o.timers[ev.Path] = time.AfterFunc(o.cfg.DebounceDelay, func() {
		o.fire(ev.Path)
	})
}

func (o *Observer) fire(path string) {
	if !o.waitForStability(path) {
		return
	}

	o.mu.Lock()
	ev, ok := o.pending[path]
	delete(o.pending, path)
	delete(o.timers, path)
	o.mu.Unlock()

	if !ok {
		return
	}
	ev.SettledAt = time.Now().UTC()
	select {
	case o.events <- ev:
	default:
		o.logger.Warn("fswatch_event_dropped", "path", path)
	}
}

// waitForStability suppresses delivery until the directory's stat has not
// changed for StabilityThreshold.
func (o *Observer) waitForStability(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		// Removed or unreadable: nothing further to stabilize against.
		return true
	}
	last := info.ModTime()
	time.Sleep(o.cfg.StabilityThreshold)
	again, err := os.Stat(path)
	if err != nil {
		return true
	}
	return again.ModTime().Equal(last)
}

func (o *Observer) recordError(err error) {
	if os.IsPermission(err) {
		o.mu.Lock()
		o.permissionErrs++
		unhealthy := o.permissionErrs >= o.cfg.UnhealthyAfter
		if unhealthy {
			o.healthy = false
		}
		o.mu.Unlock()
		o.logger.Warn("fswatch_permission_error", "error", err)
		return
	}
	o.logger.Warn("fswatch_error", "error", err)
}

// FlushAll immediately fires all pending debounced events.
func (o *Observer) FlushAll() {
	o.flushAll()
}

func (o *Observer) flushAll() {
	o.mu.Lock()
	paths := make([]string, 0, len(o.timers))
	for p, t := range o.timers {
		t.Stop()
		paths = append(paths, p)
	}
	o.mu.Unlock()

	for _, p := range paths {
		o.fireImmediate(p)
	}
}

func (o *Observer) fireImmediate(path string) {
	o.mu.Lock()
	ev, ok := o.pending[path]
	delete(o.pending, path)
	delete(o.timers, path)
	o.mu.Unlock()
	if !ok {
		return
	}
	ev.SettledAt = time.Now().UTC()
	select {
	case o.events <- ev:
	default:
	}
}

// CancelAll discards all pending debounced events without firing them.
func (o *Observer) CancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.timers {
		t.Stop()
	}
	o.timers = make(map[string]*time.Timer)
	o.pending = make(map[string]domain.DirectoryEvent)
}
