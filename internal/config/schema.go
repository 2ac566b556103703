// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for Arbor.
package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Version  string         `json:"version"`
	Project  ProjectConfig  `json:"project"`
	Server   ServerConfig   `json:"server"`
	Agent    AgentConfig    `json:"agent"`
	Sessions SessionsConfig `json:"sessions"`
	Watch    WatchConfig    `json:"watch"`
	Logging  LoggingConfig  `json:"logging"`
}

// ProjectConfig contains project metadata.
type ProjectConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         int    `json:"port"`
	Host         string `json:"host"`
	TLSCert      string `json:"tls_cert"` // Path to TLS certificate file (enables HTTPS if both cert and key set)
	TLSKey       string `json:"tls_key"`  // Path to TLS private key file
	TLSTailscale bool   `json:"tls_tailscale"`
	TLSHostname  string `json:"tls_hostname"` // Tailscale cert hostname (required when tls_tailscale)
}

// AgentConfig configures the agent CLI subprocess.
type AgentConfig struct {
	Command        string            `json:"command"` // agent binary (e.g. "claude")
	Args           []string          `json:"args"`    // extra args appended after the built-in stream flags
	WorkDir        string            `json:"work_dir"`
	Env            map[string]string `json:"env"`
	Model          string            `json:"model"`
	PermissionMode string            `json:"permission_mode"` // initial mode: ask, autoEdit, plan
}

// SessionsConfig configures session behavior.
type SessionsConfig struct {
	NameMaxLen int `json:"name_max_len"` // derived-name length bound
}

// WatchConfig configures config file watching.
type WatchConfig struct {
	Enabled  *bool  `json:"enabled"`
	Debounce string `json:"debounce"` // e.g. "100ms"
}

// LoggingConfig configures server logging.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// WatchEnabled reports whether config watching is on (default true).
func (c *Config) WatchEnabled() bool {
	return c.Watch.Enabled == nil || *c.Watch.Enabled
}

// ParseDuration parses a duration string, returning def when the string
// is empty or invalid. The validator reports invalid durations; this is
// for callers working with an already-validated config.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
