// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package stream parses the agent CLI's newline-delimited JSON output.
//
// The agent emits one JSON object per line on its stdout, but the bytes
// arrive in arbitrary chunks (the transport gives no framing guarantee)
// and may be wrapped in terminal color codes. The Processor buffers
// partial lines, strips escape sequences, decodes each complete line and
// classifies it into typed events. Lines that don't decode are dropped
// silently: interactive CLIs legitimately emit non-protocol chatter.
package stream

import "encoding/json"

// Kind discriminates classified events.
type Kind string

const (
	// KindText is a fragment of assistant prose.
	KindText Kind = "text"
	// KindThinking is a fragment of assistant reasoning.
	KindThinking Kind = "thinking"
	// KindToolUse starts a tool invocation.
	KindToolUse Kind = "tool_use"
	// KindToolOutput is a streamed output delta for a running tool.
	KindToolOutput Kind = "tool_output"
	// KindToolResult completes a tool invocation.
	KindToolResult Kind = "tool_result"
	// KindUsage carries token counts from an assistant message.
	KindUsage Kind = "usage"
	// KindSystem carries agent lifecycle/state reports.
	KindSystem Kind = "system"
	// KindPermission is a pending tool-permission request.
	KindPermission Kind = "permission"
	// KindQuestion is a pending question the agent asks the user.
	KindQuestion Kind = "question"
	// KindResult ends a turn.
	KindResult Kind = "result"
	// KindIgnored marks content the classifier recognized but
	// deliberately does not act on. Never emitted; used internally so
	// unknown block types are an explicit case, not a silent default.
	KindIgnored Kind = "ignored"
)

// Usage is one usage delta extracted from an assistant message. Fields
// missing on the wire default to zero.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

// System is the payload of a system event, passed through from the wire.
type System struct {
	Subtype        string   `json:"subtype"`
	SessionID      string   `json:"session_id,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	Model          string   `json:"model,omitempty"`
	PermissionMode string   `json:"permission_mode,omitempty"`
	CWD            string   `json:"cwd,omitempty"`
}

// Event is one classified unit of agent protocol output. Which fields
// are set depends on Kind; events are transient and emitted in the order
// the agent produced them.
type Event struct {
	Kind Kind `json:"kind"`

	// Text for KindText/KindThinking/KindResult, output chunk for
	// KindToolOutput.
	Text string `json:"text,omitempty"`

	// Tool correlation.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// Pending-request correlation (KindPermission/KindQuestion).
	RequestID string   `json:"request_id,omitempty"`
	Questions []string `json:"questions,omitempty"`
	Answers   []string `json:"answers,omitempty"`

	Usage  *Usage  `json:"usage,omitempty"`
	System *System `json:"system,omitempty"`

	// SessionID for KindResult (KindSystem carries it in System).
	SessionID string `json:"session_id,omitempty"`
	// ModelUsage is the authoritative per-model usage array from a
	// result event, passed through untouched. It is never folded into
	// the local usage accumulator.
	ModelUsage json.RawMessage `json:"model_usage,omitempty"`
}
