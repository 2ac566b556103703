// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher reloads Arbor's configuration when the file changes
// on disk.
package watcher

import (
	"sync"
	"time"
)

const defaultQuietPeriod = 100 * time.Millisecond

// Debouncer collapses a burst of triggers into one invocation after a
// quiet period. Editors save a config file several times in quick
// succession (truncate, write, rename); only the last state matters, so
// a trigger arriving before the pending one fires replaces it.
type Debouncer struct {
	mu    sync.Mutex
	quiet time.Duration
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(quiet time.Duration) *Debouncer {
	if quiet <= 0 {
		quiet = defaultQuietPeriod
	}
	return &Debouncer{quiet: quiet}
}

// Trigger schedules fn to run once the quiet period elapses with no
// further triggers. A pending fn is discarded, not queued.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// Stop discards any pending invocation.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
