package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/xdg/opsgate/internal/clog"
)

// DefaultDebounce is how long the file must be quiet before a reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the configuration file when it changes. Only the denylist
// and the token list take effect on reload; changes to anything else are
// logged as needing a restart.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload func(*Config)
	fsw      *fsnotify.Watcher
	stop     chan struct{}
	stopped  chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	current *Config
}

// NewWatcher creates a watcher for the file at path. current is the
// configuration in effect; onReload receives each successfully reloaded
// configuration.
func NewWatcher(path string, current *Config, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(ResolvePath(path)),
		debounce: DefaultDebounce,
		onReload: onReload,
		fsw:      fsw,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		current:  current,
	}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file so that editors which replace the file by rename are seen.
func (w *Watcher) Start() error {
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = w.fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	go w.loop()
	clog.Info("config: watching %s for changes", w.path)
	return nil
}

// Stop shuts down the watcher and cancels any pending reload.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
	}
	close(w.stop)
	_ = w.fsw.Close()
	<-w.stopped

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			clog.Warn("config: watcher error: %v", err)
		}
	}
}

// schedule resets the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stop:
		return
	default:
	}

	cfg, err := Load(w.path)
	if err != nil {
		clog.Warn("config: reload failed, keeping current settings: %v", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	if old != nil {
		for _, section := range RestartRequired(old, cfg) {
			clog.Warn("config: %s changed; restart to apply", section)
		}
	}
	clog.Info("config: reloaded %s", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// RestartRequired returns the sections that differ between prev and next and
// cannot be applied without a restart.
func RestartRequired(prev, next *Config) []string {
	var changed []string
	if !reflect.DeepEqual(prev.Operator, next.Operator) {
		changed = append(changed, "operator")
	}
	prevServer, nextServer := prev.Server, next.Server
	prevServer.Tokens, nextServer.Tokens = nil, nil
	if !reflect.DeepEqual(prevServer, nextServer) {
		changed = append(changed, "server")
	}
	if !reflect.DeepEqual(prev.Audit, next.Audit) {
		changed = append(changed, "audit")
	}
	if !reflect.DeepEqual(prev.Limits, next.Limits) {
		changed = append(changed, "limits")
	}
	if !reflect.DeepEqual(prev.SSH, next.SSH) {
		changed = append(changed, "ssh")
	}
	if !reflect.DeepEqual(prev.Log, next.Log) {
		changed = append(changed, "log")
	}
	return changed
}
