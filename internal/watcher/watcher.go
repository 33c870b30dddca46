package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// AppearCallback is called when a matching socket shows up.
type AppearCallback func(path string)

// Watcher monitors IPC socket directories and reports when a socket
// whose name starts with the configured prefix is created.
type Watcher struct {
	dirs     []string
	prefix   string
	callback AppearCallback
	logger   *slog.Logger
	debounce time.Duration

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	watched   []string
	cancel    chan struct{}
	done      chan struct{}
}

// New creates a watcher over dirs. Nothing is watched until Start.
func New(dirs []string, prefix string, callback AppearCallback, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dirs:     dirs,
		prefix:   prefix,
		callback: callback,
		logger:   logger,
		debounce: debounceInterval,
	}
}

// Start begins watching every directory that currently exists. Missing
// directories are skipped. It returns the number of directories watched.
func (w *Watcher) Start() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsWatcher != nil {
		return len(w.watched), nil
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool)
	for _, dir := range w.dirs {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := fsW.Add(dir); err != nil {
			w.logger.Debug("cannot watch socket directory", "dir", dir, "error", err)
			continue
		}
		w.watched = append(w.watched, dir)
	}

	if len(w.watched) == 0 {
		fsW.Close()
		return 0, nil
	}

	w.fsWatcher = fsW
	w.cancel = make(chan struct{})
	w.done = make(chan struct{})
	go w.watchLoop(fsW, w.cancel, w.done)

	w.logger.Debug("watching socket directories", "dirs", w.watched)
	return len(w.watched), nil
}

// Watched returns the directories being watched.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.watched...)
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fsW *fsnotify.Watcher, cancel <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	var timer *time.Timer

	for {
		select {
		case <-cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fsW.Events:
			if !ok {
				return
			}
			if !w.matches(event) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			path := event.Name
			timer = time.AfterFunc(w.debounce, func() {
				w.logger.Info("ipc socket appeared", "path", path)
				if w.callback != nil {
					w.callback(path)
				}
			})

		case err, ok := <-fsW.Errors:
			if !ok {
				return
			}
			w.logger.Warn("socket watcher error", "error", err)
		}
	}
}

func (w *Watcher) matches(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) {
		return false
	}
	return strings.HasPrefix(filepath.Base(event.Name), w.prefix)
}

// Shutdown stops the watcher.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	fsW, cancel, done := w.fsWatcher, w.cancel, w.done
	w.fsWatcher = nil
	w.watched = nil
	w.mu.Unlock()

	if fsW == nil {
		return
	}
	close(cancel)
	fsW.Close()
	<-done
}
