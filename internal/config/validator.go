// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

var validPermissionModes = map[string]bool{
	"ask": true, "default": true,
	"autoEdit": true, "auto-edit": true, "acceptEdits": true,
	"plan": true,
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateRequired(cfg, errs)
	v.validateServer(cfg, errs)
	v.validateAgent(cfg, errs)
	v.validateLogging(cfg, errs)
	v.validateDurations(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateRequired(cfg *Config, errs *ValidationError) {
	if cfg.Version == "" {
		errs.Add("version", "is required")
	}
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port != 0 {
		if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
			errs.Add("server.port", "must be between 0 and 65535")
		}
	}

	hasCert := cfg.Server.TLSCert != ""
	hasKey := cfg.Server.TLSKey != ""
	if hasCert != hasKey {
		errs.Add("server.tls_cert", "tls_cert and tls_key must be set together")
	}
	if cfg.Server.TLSTailscale {
		if hasCert || hasKey {
			errs.Add("server.tls_tailscale", "cannot be combined with tls_cert/tls_key")
		}
		if cfg.Server.TLSHostname == "" {
			errs.Add("server.tls_hostname", "is required when tls_tailscale is set")
		}
	}
}

func (v *Validator) validateAgent(cfg *Config, errs *ValidationError) {
	if mode := cfg.Agent.PermissionMode; mode != "" && !validPermissionModes[mode] {
		errs.Add("agent.permission_mode", fmt.Sprintf("unknown mode '%s'", mode))
	}
	if cfg.Sessions.NameMaxLen < 0 {
		errs.Add("sessions.name_max_len", "must be non-negative")
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if lvl := cfg.Logging.Level; lvl != "" && !validLogLevels[lvl] {
		errs.Add("logging.level", fmt.Sprintf("unknown level '%s'", lvl))
	}
	if f := cfg.Logging.Format; f != "" && f != "json" && f != "text" {
		errs.Add("logging.format", "must be 'json' or 'text'")
	}
}

func (v *Validator) validateDurations(cfg *Config, errs *ValidationError) {
	if d := cfg.Watch.Debounce; d != "" {
		if _, err := time.ParseDuration(d); err != nil {
			errs.Add("watch.debounce", fmt.Sprintf("invalid duration '%s'", d))
		}
	}
}
