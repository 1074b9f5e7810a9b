package templating

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ReloadCallback is called after the watcher refreshed the manager. err is
// the Refresh result.
type ReloadCallback func(err error)

// Watcher polls the template directory and refreshes the TemplateManager
// when a template file is added, removed or modified.
type Watcher struct {
	tm            *TemplateManager
	logger        *slog.Logger
	mu            sync.Mutex
	files         map[string]fileState
	callbacks     []ReloadCallback
	stopChan      chan struct{}
	done          chan struct{}
	started       bool
	stopped       bool
	checkInterval time.Duration
}

type fileState struct {
	modTime time.Time
	size    int64
}

// NewWatcher creates a watcher for tm's template directory. A zero interval
// defaults to one second.
func NewWatcher(tm *TemplateManager, logger *slog.Logger, checkInterval time.Duration) *Watcher {
	if checkInterval <= 0 {
		checkInterval = 1 * time.Second
	}
	return &Watcher{
		tm:            tm,
		logger:        logger,
		files:         make(map[string]fileState),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
		checkInterval: checkInterval,
	}
}

// AddCallback adds a callback to be called when templates are reloaded.
func (w *Watcher) AddCallback(callback ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start records the current state of the directory and begins polling.
func (w *Watcher) Start() error {
	files, err := w.scan()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	w.started = true
	w.files = files
	go w.watchLoop()
	w.logger.Info("Template watcher started", "interval", w.checkInterval)
	return nil
}

// Stop stops polling and waits for the polling goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	started := w.started
	if !w.stopped {
		w.stopped = true
		close(w.stopChan)
	}
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Check(); err != nil {
				w.logger.Error("Template reload failed", "error", err)
			}
		case <-w.stopChan:
			return
		}
	}
}

// Check polls the directory once. It reports whether anything changed, in
// which case the manager was refreshed and the callbacks were run.
func (w *Watcher) Check() (bool, error) {
	files, err := w.scan()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	changed := !sameFiles(w.files, files)
	if changed {
		w.files = files
	}
	callbacks := append([]ReloadCallback(nil), w.callbacks...)
	w.mu.Unlock()

	if !changed {
		return false, nil
	}

	w.logger.Info("Template files changed, reloading")
	err = w.tm.Refresh()
	for _, callback := range callbacks {
		callback(err)
	}
	return true, err
}

// scan stats every template file in the manager's directory.
func (w *Watcher) scan() (map[string]fileState, error) {
	dir := w.tm.GetTemplateDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %q: %w", dir, err)
	}

	files := make(map[string]fileState, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, PageSuffix) || strings.HasSuffix(name, PartialSuffix)) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files[filepath.Join(dir, name)] = fileState{modTime: info.ModTime(), size: info.Size()}
	}
	return files, nil
}

func sameFiles(a, b map[string]fileState) bool {
	if len(a) != len(b) {
		return false
	}
	for name, sa := range a {
		sb, ok := b[name]
		if !ok || !sa.modTime.Equal(sb.modTime) || sa.size != sb.size {
			return false
		}
	}
	return true
}
