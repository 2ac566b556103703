// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	return cfg
}

func TestLoader_Load_ValidConfig(t *testing.T) {
	configContent := `{
		version: "1.0"
		project: {
			name: "test-project"
			description: "A test project"
		}
		server: {
			port: 8080
			host: "127.0.0.1"
		}
		agent: {
			command: "claude"
			args: ["--model", "sonnet"]
			permission_mode: "plan"
		}
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "test-project", cfg.Project.Name)
	assert.Equal(t, "A test project", cfg.Project.Description)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "claude", cfg.Agent.Command)
	assert.Equal(t, []string{"--model", "sonnet"}, cfg.Agent.Args)
	assert.Equal(t, "plan", cfg.Agent.PermissionMode)
}

func TestLoader_Load_HJSONFeatures(t *testing.T) {
	// Test HJSON-specific features: comments, unquoted keys, trailing commas
	configContent := `{
		// This is a comment
		version: "1.0"

		# Hash comment
		project: {
			name: test-project
			description: '''
				Multi-line
				description
			'''
		}

		server: {
			port: 8080,
			host: 127.0.0.1,
		}

		agent: {
			command: claude
		},
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "test-project", cfg.Project.Name)
	assert.Contains(t, cfg.Project.Description, "Multi-line")
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude", cfg.Agent.Command)
}

func TestLoader_Load_MissingFile(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), "/nonexistent/arbor.hjson")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoader_Load_InvalidHJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arbor.hjson")
	require.NoError(t, os.WriteFile(path, []byte("{ version: [unclosed"), 0644))

	_, err := NewLoader().Load(context.Background(), path)
	require.Error(t, err)
}

func TestLoader_LoadWithDefaults(t *testing.T) {
	cfg := func() *Config {
		dir := t.TempDir()
		path := filepath.Join(dir, "arbor.hjson")
		require.NoError(t, os.WriteFile(path, []byte(`{ version: "1.0" }`), 0644))
		c, err := NewLoader().LoadWithDefaults(context.Background(), path)
		require.NoError(t, err)
		return c
	}()

	assert.Equal(t, 7433, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "claude", cfg.Agent.Command)
	assert.Equal(t, "ask", cfg.Agent.PermissionMode)
	assert.Equal(t, 48, cfg.Sessions.NameMaxLen)
	assert.Equal(t, "100ms", cfg.Watch.Debounce)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.WatchEnabled())
}

func TestLoader_FindConfig(t *testing.T) {
	dir := t.TempDir()
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	_, err = NewLoader().FindConfig()
	assert.Error(t, err, "no config file present")

	require.NoError(t, os.WriteFile("arbor.json", []byte("{}"), 0644))
	path, err := NewLoader().FindConfig()
	require.NoError(t, err)
	assert.Equal(t, "arbor.json", filepath.Base(path))

	// hjson takes precedence over json
	require.NoError(t, os.WriteFile("arbor.hjson", []byte("{}"), 0644))
	path, err = NewLoader().FindConfig()
	require.NoError(t, err)
	assert.Equal(t, "arbor.hjson", filepath.Base(path))
}
