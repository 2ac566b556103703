// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/mode"
	"github.com/arborhq/arbor/internal/stream"
)

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{Command: "claude", PermissionMode: "plan"}
}

func TestNewRunnerInitialMode(t *testing.T) {
	r := NewRunner("s1", testAgentConfig(), func(stream.Event) {}, func(mode.Mode) {})
	assert.Equal(t, mode.Plan, r.Mode())
	assert.False(t, r.Running())
}

func TestNewRunnerBadInitialModeFallsBackToAsk(t *testing.T) {
	cfg := testAgentConfig()
	cfg.PermissionMode = "yolo"
	r := NewRunner("s1", cfg, func(stream.Event) {}, func(mode.Mode) {})
	// SetInitial rejects the alias; the machine stays at its zero default.
	assert.Equal(t, mode.Ask, r.Mode())
}

func TestWriteFailsWhenNotRunning(t *testing.T) {
	r := NewRunner("s1", testAgentConfig(), func(stream.Event) {}, func(mode.Mode) {})

	err := r.SendUserMessage("", "hello", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")

	assert.Error(t, r.Interrupt())
	assert.Error(t, r.RespondPermission("r1", true, ""))
}

func TestRequestModeNoOpWhenAlreadyThere(t *testing.T) {
	r := NewRunner("s1", testAgentConfig(), func(stream.Event) {}, func(mode.Mode) {})
	changed, err := r.RequestMode("plan")
	require.NoError(t, err)
	assert.False(t, changed, "already in plan, nothing to press")
}

func TestStdinUserMessageShape(t *testing.T) {
	msg := stdinUserMessage{
		Type:      "user",
		SessionID: "agent-sid",
		Message: stdinMessageInner{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: "hi"}},
		},
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "user",
		"session_id": "agent-sid",
		"message": {"role": "user", "content": [{"type": "text", "text": "hi"}]}
	}`, string(data))
}

func TestControlResponseShape(t *testing.T) {
	payload, _ := json.Marshal(map[string]interface{}{"behavior": "allow", "message": ""})
	resp := controlResponse{Type: "control_response", RequestID: "r1", Response: payload}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "control_response",
		"request_id": "r1",
		"response": {"behavior": "allow", "message": ""}
	}`, string(data))
}

func TestManagerUnknownSessionErrors(t *testing.T) {
	m := NewManager(testAgentConfig(),
		func(string, stream.Event) {}, func(string, mode.Mode) {}, nil)

	assert.Error(t, m.Dispatch("nope", "hi", nil))
	assert.Error(t, m.Interrupt("nope"))
	_, err := m.Mode("nope")
	assert.Error(t, err)
	_, err = m.RequestMode("nope", "plan")
	assert.Error(t, err)
}

func TestManagerStopSessionIdempotent(t *testing.T) {
	m := NewManager(testAgentConfig(),
		func(string, stream.Event) {}, func(string, mode.Mode) {}, nil)
	m.StopSession("ghost")
	m.Shutdown()
}

func TestManagerCaptureAgentSID(t *testing.T) {
	m := NewManager(testAgentConfig(),
		func(string, stream.Event) {}, func(string, mode.Mode) {}, nil)

	m.captureAgentSID("s1", stream.Event{
		Kind:   stream.KindSystem,
		System: &stream.System{Subtype: "init", SessionID: "agent-123"},
	})
	m.mu.Lock()
	sid := m.agentSIDs["s1"]
	m.mu.Unlock()
	assert.Equal(t, "agent-123", sid)

	// Non-system events never touch the mapping.
	m.captureAgentSID("s1", stream.Event{Kind: stream.KindText, Text: "x"})
	m.mu.Lock()
	sid = m.agentSIDs["s1"]
	m.mu.Unlock()
	assert.Equal(t, "agent-123", sid)
}
