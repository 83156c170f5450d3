package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "relaycast/pkg/logx"
)

// Manager holds the current config and republishes it when the file on
// disk changes. Subscribers run on the watcher goroutine; keep them short.
type Manager struct {
	path string
	log  logx.Logger

	mu   sync.RWMutex
	cur  *Root
	subs []func(*Root)
}

func NewManager(path string, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{path: path, log: log}
}

// Load parses the file and makes it current.
func (m *Manager) Load() (*Root, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cur = cfg
	m.mu.Unlock()
	return cfg, nil
}

// Current returns the last successfully loaded config.
func (m *Manager) Current() *Root {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// SetLogger swaps the manager's logger once the real sink exists.
func (m *Manager) SetLogger(log logx.Logger) {
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

// Subscribe registers a callback invoked after each successful reload.
func (m *Manager) Subscribe(fn func(*Root)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Watch blocks until ctx is done, reloading on file changes. The watch is
// on the directory, not the file, so editor rename-and-replace still fires.
// A bad file keeps the previous config and logs the parse error.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	m.mu.RLock()
	log := m.log
	m.mu.RUnlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	// Debounce so partial writes settle before the reload.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			cfg, err := m.Load()
			if err != nil {
				log.Warn("config reload failed; keeping previous",
					logx.String("path", m.path), logx.Err(err))
				return
			}
			log.Info("config reloaded", logx.String("path", m.path))
			m.mu.RLock()
			subs := make([]func(*Root), len(m.subs))
			copy(subs, m.subs)
			m.mu.RUnlock()
			for _, fn := range subs {
				fn(cfg)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watch error", logx.Err(err))
		}
	}
}
