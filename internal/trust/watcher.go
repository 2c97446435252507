package trust

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"botnerd/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// RulesWatcher hot-reloads the gate policy from the configured rules file.
// It watches the file's directory rather than the file itself because
// editors replace files by rename, which drops a direct file watch.
type RulesWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	kernel      *PolicyKernel
	rulesPath   string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats RulesWatcherStats
}

// RulesWatcherStats tracks reload activity for the status surfaces.
type RulesWatcherStats struct {
	ReloadsApplied  int
	ReloadsRejected int
	Errors          int
	LastEventTime   time.Time
}

// NewRulesWatcher creates a watcher for rulesPath feeding kernel.
func NewRulesWatcher(rulesPath string, kernel *PolicyKernel) (*RulesWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &RulesWatcher{
		watcher:     watcher,
		kernel:      kernel,
		rulesPath:   rulesPath,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start loads the rules file if it already exists, then begins watching its
// directory. Non-blocking; the watch loop runs in its own goroutine.
func (rw *RulesWatcher) Start(ctx context.Context) error {
	rw.mu.Lock()
	if rw.running {
		rw.mu.Unlock()
		return nil
	}
	rw.running = true
	rw.mu.Unlock()

	// An existing rules file takes effect before the robot starts moving.
	if _, err := os.Stat(rw.rulesPath); err == nil {
		rw.reload()
	}

	dir := filepath.Dir(rw.rulesPath)
	if err := rw.watcher.Add(dir); err != nil {
		logging.GateWarn("RulesWatcher: watch failed for %s (dir may not exist): %v", dir, err)
	} else {
		logging.Gate("RulesWatcher: watching %s for %s", dir, filepath.Base(rw.rulesPath))
	}

	go rw.run(ctx)

	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (rw *RulesWatcher) Stop() {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		return
	}
	rw.running = false
	rw.mu.Unlock()

	close(rw.stopCh)
	<-rw.doneCh

	if err := rw.watcher.Close(); err != nil {
		logging.GateError("RulesWatcher: error closing watcher: %v", err)
	}
	logging.Gate("RulesWatcher: stopped")
}

// IsWatching reports whether the watch loop is running.
func (rw *RulesWatcher) IsWatching() bool {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	return rw.running
}

// Stats returns a copy of the reload counters.
func (rw *RulesWatcher) Stats() RulesWatcherStats {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	return rw.stats
}

func (rw *RulesWatcher) run(ctx context.Context) {
	defer close(rw.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-rw.stopCh:
			return

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			rw.handleEvent(event)

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			logging.GateError("RulesWatcher error: %v", err)
			rw.mu.Lock()
			rw.stats.Errors++
			rw.mu.Unlock()

		case <-debounceTicker.C:
			rw.processDebouncedEvents()
		}
	}
}

// handleEvent records events for the rules file; everything else in the
// directory is ignored.
func (rw *RulesWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(rw.rulesPath) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	logging.GateDebug("RulesWatcher: %s event for %s", event.Op, event.Name)

	rw.mu.Lock()
	rw.stats.LastEventTime = time.Now()
	rw.debounceMap[event.Name] = time.Now()
	rw.mu.Unlock()
}

// processDebouncedEvents reloads once a burst of events has settled.
func (rw *RulesWatcher) processDebouncedEvents() {
	rw.mu.Lock()
	now := time.Now()
	pending := false
	for path, eventTime := range rw.debounceMap {
		if now.Sub(eventTime) >= rw.debounceDur {
			delete(rw.debounceMap, path)
			pending = true
		}
	}
	rw.mu.Unlock()

	if pending {
		rw.reload()
	}
}

// reload reads the rules file into the kernel. A missing file restores the
// embedded defaults; an invalid file is rejected and the active rules stay.
func (rw *RulesWatcher) reload() {
	content, err := os.ReadFile(rw.rulesPath)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Gate("RulesWatcher: %s removed, restoring default rules", rw.rulesPath)
			rw.kernel.ResetRules()
			rw.mu.Lock()
			rw.stats.ReloadsApplied++
			rw.mu.Unlock()
			return
		}
		logging.GateError("RulesWatcher: failed to read %s: %v", rw.rulesPath, err)
		rw.mu.Lock()
		rw.stats.Errors++
		rw.mu.Unlock()
		return
	}

	if err := rw.kernel.SetRules(string(content)); err != nil {
		logging.GateWarn("RulesWatcher: rejected %s, keeping active rules: %v", rw.rulesPath, err)
		rw.mu.Lock()
		rw.stats.ReloadsRejected++
		rw.mu.Unlock()
		return
	}

	logging.Gate("RulesWatcher: loaded rules from %s", rw.rulesPath)
	rw.mu.Lock()
	rw.stats.ReloadsApplied++
	rw.mu.Unlock()
}
