// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/mode"
	"github.com/arborhq/arbor/internal/stream"
)

// Manager owns one Runner per session.
type Manager struct {
	mu      sync.Mutex
	cfg     config.AgentConfig
	runners map[string]*Runner

	// agentSIDs maps our session id to the agent CLI's own session id,
	// captured from its init event and used to tag outgoing messages.
	agentSIDs map[string]string

	onEvent      func(sessionID string, ev stream.Event)
	onModeChange func(sessionID string, m mode.Mode)
	onExit       func(sessionID string)
}

// NewManager creates an agent manager. onEvent receives every classified
// stream event, tagged with our session id; onModeChange fires on
// confirmed permission-mode transitions; onExit (may be nil) fires when
// a session's agent process exits.
func NewManager(cfg config.AgentConfig, onEvent func(sessionID string, ev stream.Event), onModeChange func(sessionID string, m mode.Mode), onExit func(sessionID string)) *Manager {
	return &Manager{
		cfg:          cfg,
		runners:      make(map[string]*Runner),
		agentSIDs:    make(map[string]string),
		onEvent:      onEvent,
		onModeChange: onModeChange,
		onExit:       onExit,
	}
}

// SetConfig swaps the agent configuration used for sessions started from
// now on. Running sessions keep the process they were started with.
func (m *Manager) SetConfig(cfg config.AgentConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// StartSession allocates a session id, spawns an agent process for it,
// and returns the id. The session becomes real for callers of the
// session layer only when the agent's init event confirms it.
func (m *Manager) StartSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	id := uuid.New().String()
	r := NewRunner(id, cfg,
		func(ev stream.Event) {
			m.captureAgentSID(id, ev)
			m.onEvent(id, ev)
		},
		func(md mode.Mode) { m.onModeChange(id, md) },
	)
	if m.onExit != nil {
		r.onExit = func() { m.onExit(id) }
	}

	if err := r.Start(ctx); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.runners[id] = r
	m.mu.Unlock()

	return id, nil
}

// captureAgentSID records the agent's own session id from init events.
func (m *Manager) captureAgentSID(id string, ev stream.Event) {
	if ev.Kind != stream.KindSystem || ev.System == nil || ev.System.SessionID == "" {
		return
	}
	m.mu.Lock()
	m.agentSIDs[id] = ev.System.SessionID
	m.mu.Unlock()
}

// runner looks up the runner for a session.
func (m *Manager) runner(sessionID string) (*Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[sessionID]
	if !ok {
		return nil, fmt.Errorf("no agent process for session %s", sessionID)
	}
	return r, nil
}

// Dispatch sends user text to a session's agent.
func (m *Manager) Dispatch(sessionID, text string, images []string) error {
	r, err := m.runner(sessionID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	agentSID := m.agentSIDs[sessionID]
	m.mu.Unlock()
	return r.SendUserMessage(agentSID, text, images)
}

// Mode returns the confirmed permission mode for a session.
func (m *Manager) Mode(sessionID string) (mode.Mode, error) {
	r, err := m.runner(sessionID)
	if err != nil {
		return "", err
	}
	return r.Mode(), nil
}

// RequestMode requests a permission-mode change for a session. Returns
// false when the session is already in the target mode.
func (m *Manager) RequestMode(sessionID, target string) (bool, error) {
	r, err := m.runner(sessionID)
	if err != nil {
		return false, err
	}
	return r.RequestMode(target)
}

// RespondPermission answers a pending tool-permission request.
func (m *Manager) RespondPermission(sessionID, requestID string, allow bool, message string) error {
	r, err := m.runner(sessionID)
	if err != nil {
		return err
	}
	return r.RespondPermission(requestID, allow, message)
}

// RespondQuestion answers a pending question.
func (m *Manager) RespondQuestion(sessionID, requestID, answer string) error {
	r, err := m.runner(sessionID)
	if err != nil {
		return err
	}
	return r.RespondQuestion(requestID, answer)
}

// Interrupt stops a session's current turn.
func (m *Manager) Interrupt(sessionID string) error {
	r, err := m.runner(sessionID)
	if err != nil {
		return err
	}
	return r.Interrupt()
}

// StopSession tears down a session's agent process.
func (m *Manager) StopSession(sessionID string) {
	m.mu.Lock()
	r := m.runners[sessionID]
	delete(m.runners, sessionID)
	delete(m.agentSIDs, sessionID)
	m.mu.Unlock()

	if r != nil {
		r.Close()
	}
}

// Shutdown stops every agent process.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.runners = make(map[string]*Runner)
	m.agentSIDs = make(map[string]string)
	m.mu.Unlock()

	for _, r := range runners {
		r.Close()
	}
}
