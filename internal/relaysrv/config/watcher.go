package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// settingsDebounceInterval is the quiet period after the last file event
// before OnChange fires. Editors and the staged-rename write in Settings
// produce bursts of events for one logical change.
const settingsDebounceInterval = 500 * time.Millisecond

// SettingsWatcher monitors the settings file and invokes a callback when it
// changes. The server wires the callback to credential-cache invalidation so
// a token written by `gantry login` in another terminal, or removed by an
// operator, takes effect without a restart.
type SettingsWatcher struct {
	mu sync.Mutex

	path     string
	onChange func()

	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewSettingsWatcher creates a watcher for the given settings file path.
func NewSettingsWatcher(path string, onChange func()) *SettingsWatcher {
	return &SettingsWatcher{
		path:     path,
		onChange: onChange,
	}
}

// Start begins watching. The parent directory is watched rather than the file
// itself so create and rename events are seen even when the file does not
// exist yet.
func (w *SettingsWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}

	w.fsWatcher = watcher
	w.stopCh = make(chan struct{})
	w.running = true

	// capture channels before releasing the lock so Stop cannot race
	eventsCh := watcher.Events
	errorsCh := watcher.Errors
	go w.processEvents(eventsCh, errorsCh)

	log.Info().Str("path", w.path).Msg("watching settings file")
	return nil
}

// Stop stops watching. Safe to call multiple times.
func (w *SettingsWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
		w.fsWatcher = nil
	}

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()
}

func (w *SettingsWatcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("settings watcher error")
		}
	}
}

func (w *SettingsWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != filepath.Base(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	w.triggerDebounced()
}

func (w *SettingsWatcher) triggerDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(settingsDebounceInterval, func() {
		w.mu.Lock()
		running := w.running
		callback := w.onChange
		w.mu.Unlock()

		if running && callback != nil {
			log.Info().Msg("settings file changed")
			callback()
		}
	})
}
