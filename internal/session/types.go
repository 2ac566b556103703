// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session folds classified agent events into per-session
// timelines.
//
// The Store is an arena of Session records addressed by id. It holds
// exclusive mutation rights over every timeline and pending slot; all
// mutation happens synchronously inside a handler call under one lock,
// so the model is always consistent when control returns. Callers get
// id-scoped accessors and snapshot copies, never raw map handles.
//
// Result events are the one event kind with no timeline entry: their
// text duplicates the assistant entries already streamed, so subscribers
// receive the final text and the agent's per-model usage only as a
// result update.
package session

import (
	"encoding/json"
	"time"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusIdle              Status = "idle"
	StatusRunning           Status = "running"
	StatusWaitingInput      Status = "waitingInput"
	StatusWaitingPermission Status = "waitingPermission"
)

// EntryKind discriminates timeline entries.
type EntryKind string

const (
	EntryUser       EntryKind = "user"
	EntryAssistant  EntryKind = "assistant"
	EntryThinking   EntryKind = "thinking"
	EntryTool       EntryKind = "tool"
	EntryToolResult EntryKind = "tool_result"
	EntrySystem     EntryKind = "system"
	EntryQuestion   EntryKind = "question"
)

// ToolKind classifies a tool invocation for display purposes.
type ToolKind string

const (
	ToolBash    ToolKind = "bash"
	ToolMCP     ToolKind = "mcp"
	ToolGeneric ToolKind = "generic"
)

// Entry is one item in a session's ordered timeline. Entries are
// append-only in sequence number; Assistant/Thinking entries grow their
// text while they are the trailing entry, and a Tool entry is mutated by
// id lookup until IsComplete flips true, after which it is immutable.
type Entry struct {
	Seq  int       `json:"seq"`
	Kind EntryKind `json:"kind"`

	// User/Assistant/Thinking.
	Text   string   `json:"text,omitempty"`
	Images []string `json:"images,omitempty"`

	// Tool / standalone ToolResult.
	ToolUseID  string          `json:"tool_use_id,omitempty"`
	ToolKind   ToolKind        `json:"tool_kind,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`
	IsComplete bool            `json:"is_complete,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`

	// System.
	Title    string `json:"title,omitempty"`
	Message  string `json:"message,omitempty"`
	Severity string `json:"severity,omitempty"`

	// Question.
	Answers []string `json:"answers,omitempty"`
}

// PendingPermission is an outstanding tool-permission request. One slot
// per session: a newer request before the old one is answered simply
// overwrites it (last-request-wins).
type PendingPermission struct {
	SessionID string          `json:"session_id"`
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// PendingQuestion is an outstanding question from the agent. Same
// single-slot semantics as PendingPermission.
type PendingQuestion struct {
	SessionID string   `json:"session_id"`
	RequestID string   `json:"request_id"`
	Questions []string `json:"questions"`
	Answers   []string `json:"answers,omitempty"`
}

// pendingMessage is a message typed before any session existed, parked
// until the session-creation confirmation arrives. Single global slot.
type pendingMessage struct {
	sessionID string // session the creation was requested for
	text      string
	images    []string
}

// Info is an exported, JSON-friendly summary of a session.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	WorkDir   string    `json:"work_dir,omitempty"`
	Model     string    `json:"model,omitempty"`
	Active    bool      `json:"active"`
}

// Session holds one conversation's state. All fields are owned by the
// Store and mutated only under its lock.
type Session struct {
	id      string
	name    string
	status  Status
	created time.Time
	workDir string
	model   string

	// agentSID is the agent CLI's own session id, reported in its
	// system init event. Kept for resume; distinct from our id.
	agentSID string

	entries []Entry
	nextSeq int
	usage   Usage

	pendingPermission *PendingPermission
	pendingQuestion   *PendingQuestion
}

// info builds the exported summary. Caller holds the Store lock.
func (s *Session) info(active bool) Info {
	return Info{
		ID:        s.id,
		Name:      s.name,
		Status:    s.status,
		CreatedAt: s.created,
		WorkDir:   s.workDir,
		Model:     s.model,
		Active:    active,
	}
}
