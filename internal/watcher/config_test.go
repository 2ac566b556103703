// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestConfigWatcher_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{ version: "1.0" }`), 0644))

	var fired atomic.Int32
	w, err := NewConfigWatcher(path, 20*time.Millisecond, func(p string) {
		assert.Equal(t, path, p)
		fired.Add(1)
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{ version: "1.1" }`), 0644))

	assert.True(t, waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 }))
}

func TestConfigWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.hjson")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	var fired atomic.Int32
	w, err := NewConfigWatcher(path, 100*time.Millisecond, func(string) {
		fired.Add(1)
	})
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	require.True(t, waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 }))
	// Settle, then confirm the burst collapsed to one call.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestConfigWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.hjson")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	var fired atomic.Int32
	w, err := NewConfigWatcher(path, 20*time.Millisecond, func(string) {
		fired.Add(1)
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestConfigWatcher_SurvivesRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.hjson")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	var fired atomic.Int32
	w, err := NewConfigWatcher(path, 20*time.Millisecond, func(string) {
		fired.Add(1)
	})
	require.NoError(t, err)
	defer w.Close()

	// Atomic-replace the file, the way editors save.
	tmp := filepath.Join(dir, ".arbor.hjson.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`{ version: "2" }`), 0644))
	require.NoError(t, os.Rename(tmp, path))

	assert.True(t, waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 }))
}

func TestConfigWatcher_CloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.hjson")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	w, err := NewConfigWatcher(path, 20*time.Millisecond, func(string) {})
	require.NoError(t, err)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
