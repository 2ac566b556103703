// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches the configuration file and invokes a callback
// after changes settle. The parent directory is watched rather than the
// file itself: editors that replace the file via rename would otherwise
// silently detach the watch.
type ConfigWatcher struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	path      string // absolute config file path
	onChange  func(path string)
	closed    bool
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewConfigWatcher starts watching path, calling onChange (debounced)
// when the file is written, created, or renamed into place.
func NewConfigWatcher(path string, debounce time.Duration, onChange func(path string)) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &ConfigWatcher{
		watcher:   fsWatcher,
		debouncer: NewDebouncer(debounce),
		path:      abs,
		onChange:  onChange,
		closeCh:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Path returns the watched config file path.
func (w *ConfigWatcher) Path() string {
	return w.path
}

// Close stops the watcher and releases resources.
func (w *ConfigWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	w.watcher.Close()
	w.wg.Wait()

	return nil
}

func (w *ConfigWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %v", err)
		}
	}
}

func (w *ConfigWatcher) handleEvent(event fsnotify.Event) {
	// Writes, creates, and renames only. Chmod events fire on unrelated
	// filesystem activity and must not trigger reloads.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	// The directory watch sees every file in the directory.
	if filepath.Clean(event.Name) != w.path {
		return
	}

	w.debouncer.Trigger(func() {
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		w.onChange(w.path)
	})
}
