// Package registry observes the externally-mutated accounts registry
// file and produces settled snapshots of its content.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/j-veylop/antigravity-quota-hub/internal/logger"
	"github.com/j-veylop/antigravity-quota-hub/internal/metrics"
	"github.com/j-veylop/antigravity-quota-hub/internal/models"
)

// debounceInterval is the quiet period after the last write event
// before a change is treated as settled. External tooling rewrites the
// registry with several rapid writes; only the settled content counts.
const debounceInterval = 100 * time.Millisecond

// SnapshotFunc receives each settled registry snapshot. A missing file
// is delivered as an empty snapshot, not an error. The callback is
// invoked from a single goroutine, one settled change at a time.
type SnapshotFunc func(*models.RegistrySnapshot)

// Watcher watches one registry file and invokes a callback with parsed
// snapshots. Malformed content never reaches the callback: the previous
// snapshot stays in force and the failure is logged.
type Watcher struct {
	mu            sync.Mutex
	filePath      string
	onSnapshot    SnapshotFunc
	watcher       *fsnotify.Watcher
	debounceTimer *time.Timer
	stopChan      chan struct{}
	pending       chan struct{}
	closeOnce     sync.Once
}

// New creates a watcher for the given registry path. It does not read
// the file or start watching until Start is called.
func New(filePath string, onSnapshot SnapshotFunc) (*Watcher, error) {
	if filePath == "" {
		return nil, fmt.Errorf("registry path is empty")
	}
	if onSnapshot == nil {
		return nil, fmt.Errorf("snapshot callback is required")
	}

	return &Watcher{
		filePath:   filePath,
		onSnapshot: onSnapshot,
		stopChan:   make(chan struct{}),
		pending:    make(chan struct{}, 1),
	}, nil
}

// Start performs the initial load and begins watching for changes.
func (w *Watcher) Start() error {
	// Initial load counts as a settled change, including the
	// missing-file case.
	w.loadAndNotify()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.watcher = watcher

	// Watch the directory (to catch file creation/deletion)
	dir := filepath.Dir(w.filePath)
	if err := watcher.Add(dir); err != nil {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("failed to close watcher", "error", closeErr)
		}
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.watchLoop()
	go w.settleLoop()
	return nil
}

// watchLoop handles file system events with debouncing.
func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Only care about our registry file
			if filepath.Base(event.Name) != filepath.Base(w.filePath) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				// Debounce rapid changes
				w.mu.Lock()
				if w.debounceTimer != nil {
					w.debounceTimer.Stop()
				}
				w.debounceTimer = time.AfterFunc(debounceInterval, w.signalSettled)
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("registry watch error", "path", w.filePath, "error", err)

		case <-w.stopChan:
			return
		}
	}
}

// signalSettled marks a settled change for the settle loop. The channel
// has capacity one so bursts collapse into a single reload.
func (w *Watcher) signalSettled() {
	select {
	case w.pending <- struct{}{}:
	default:
	}
}

// settleLoop processes settled changes one at a time, keeping the
// callback free of reentrancy.
func (w *Watcher) settleLoop() {
	for {
		select {
		case <-w.pending:
			w.loadAndNotify()
		case <-w.stopChan:
			return
		}
	}
}

// loadAndNotify reads and parses the registry, invoking the callback on
// success or on a missing file. A parse failure leaves previous state
// untouched.
func (w *Watcher) loadAndNotify() {
	snap, err := Load(w.filePath)
	if err != nil {
		metrics.RegistryParseErrorsTotal.Inc()
		logger.Error("malformed registry file, keeping previous state",
			"path", w.filePath, "error", err)
		return
	}
	metrics.RegistryReloadsTotal.Inc()
	w.onSnapshot(snap)
}

// Load reads and parses the registry file at path. A missing file
// yields an empty snapshot; malformed content yields an error.
func Load(path string) (*models.RegistrySnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &models.RegistrySnapshot{}, nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	return Parse(data)
}

// Parse decodes registry file content into a snapshot.
func Parse(data []byte) (*models.RegistrySnapshot, error) {
	var raw models.RawRegistryFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	// A file that decodes but carries no accounts array and no version
	// marker is almost certainly not a registry; reject it rather than
	// wiping known-good state.
	if raw.Accounts == nil && raw.Version == 0 {
		return nil, fmt.Errorf("failed to parse registry: not an accounts file")
	}

	return raw.ToSnapshot(), nil
}

// Close stops the watcher and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopChan)

		w.mu.Lock()
		if w.debounceTimer != nil {
			w.debounceTimer.Stop()
		}
		w.mu.Unlock()

		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}
