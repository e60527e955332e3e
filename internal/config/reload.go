package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher re-reads the YAML config file when it changes and notifies
// registered callbacks with the freshly loaded configuration. Environment
// overrides are re-applied on every reload so they keep precedence.
type Watcher struct {
	configFile string
	watcher    *fsnotify.Watcher
	callbacks  []func(*Config)
	stopCh     chan struct{}

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(configFile string) (*Watcher, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		configFile: configFile,
		watcher:    fw,
		stopCh:     make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching. Watching the parent directory survives the
// rename-and-replace write pattern used by most editors.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(filepath.Dir(w.configFile)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}
	w.running = true
	go w.loop()
	return nil
}

// Stop ends watching and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	w.running = false
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configFile) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logrus.Warnf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.configFile)
	if err != nil {
		logrus.Errorf("config reload failed, keeping previous configuration: %v", err)
		return
	}
	logrus.Infof("configuration reloaded from %s", w.configFile)

	w.mu.Lock()
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
}
