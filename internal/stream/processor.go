// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"bytes"
	"encoding/json"
	"log"
	"regexp"
	"strings"

	"github.com/arborhq/arbor/internal/mode"
)

// ansiEscape matches CSI escape sequences: ESC [ parameters, then a final
// byte in @-~. The agent wraps protocol lines in color codes when it
// detects a tty, so sequences must be stripped before decode.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Processor turns raw output chunks into classified events.
//
// It owns the partial-line tail: chunks may split a JSON object (or even
// an escape sequence) anywhere, and feeding the same byte sequence in
// different chunkings must produce the identical event sequence.
type Processor struct {
	emit  func(Event)
	modes *mode.Machine // may be nil; updated from system events
	tail  []byte
}

// NewProcessor creates a processor. emit is invoked synchronously, once
// per classified event, in wire order. modes, if non-nil, is updated when
// a system event reports a permission mode differing from its current one.
func NewProcessor(emit func(Event), modes *mode.Machine) *Processor {
	return &Processor{emit: emit, modes: modes}
}

// HandleChunk accepts any-sized fragment of agent output: zero, one or
// many newline-terminated lines plus an optional partial tail, which is
// retained across calls.
func (p *Processor) HandleChunk(data []byte) {
	if len(data) == 0 {
		return
	}

	buf := append(p.tail, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := buf[:i]
		buf = buf[i+1:]
		p.handleLine(line)
	}

	// Keep an owned copy: the input slice may be reused by the caller.
	p.tail = append([]byte(nil), buf...)
}

// ResetBuffer drops the retained partial line without emitting anything.
// Used after the byte stream is resynchronized externally (e.g. process
// restart) so a half-received line is not stitched to new output.
func (p *Processor) ResetBuffer() {
	p.tail = nil
}

// wireLine is one decoded protocol line. Field names follow the wire
// format (underscores); they are translated to the internal model here
// and nowhere else.
type wireLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`

	// system fields
	Tools          []string `json:"tools,omitempty"`
	Model          string   `json:"model,omitempty"`
	PermissionMode string   `json:"permissionMode,omitempty"`
	CWD            string   `json:"cwd,omitempty"`

	// result fields
	ModelUsage json.RawMessage `json:"modelUsage,omitempty"`

	// tool_output (streamed delta) fields
	ToolUseID string `json:"tool_use_id,omitempty"`
	Output    string `json:"output,omitempty"`

	// control_request fields
	RequestID string          `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
}

// wireMessage is the message object inside assistant/user lines.
type wireMessage struct {
	Content []wireBlock `json:"content"`
	Usage   *wireUsage  `json:"usage,omitempty"`
}

// wireBlock is one content block.
type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type wireUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// wireRequest is the request object inside control_request lines.
type wireRequest struct {
	Subtype   string          `json:"subtype"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Questions []string        `json:"questions,omitempty"`
	Answers   []string        `json:"answers,omitempty"`
}

// handleLine strips escapes, decodes and classifies one complete line.
// Undecodable lines are dropped: not an error, the agent is not trusted
// to emit clean protocol frames.
func (p *Processor) handleLine(line []byte) {
	line = ansiEscape.ReplaceAll(line, nil)
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	var wl wireLine
	if err := json.Unmarshal(line, &wl); err != nil {
		return
	}

	switch wl.Type {
	case "assistant":
		p.classifyAssistant(wl.Message)
	case "user":
		p.classifyUser(wl.Message)
	case "system":
		p.classifySystem(wl)
	case "result":
		p.emit(Event{
			Kind:       KindResult,
			Text:       wl.Result,
			SessionID:  wl.SessionID,
			ModelUsage: wl.ModelUsage,
		})
	case "stream_event", "tool_output":
		// Vendor extension: streamed output for a running tool.
		if wl.ToolUseID != "" && wl.Output != "" {
			p.emit(Event{
				Kind:      KindToolOutput,
				ToolUseID: wl.ToolUseID,
				Text:      wl.Output,
			})
		}
	case "control_request":
		p.classifyControlRequest(wl)
	default:
		// Unknown discriminant: ignored.
	}
}

// classifyAssistant emits one event per content block, in block order,
// plus a usage event if the message carries one.
func (p *Processor) classifyAssistant(raw json.RawMessage) {
	if raw == nil {
		return
	}
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	for _, block := range msg.Content {
		switch classifyBlock(block.Type) {
		case KindText:
			p.emit(Event{Kind: KindText, Text: block.Text})
		case KindThinking:
			p.emit(Event{Kind: KindThinking, Text: block.Thinking})
		case KindToolUse:
			p.emit(Event{
				Kind:      KindToolUse,
				ToolUseID: block.ID,
				ToolName:  block.Name,
				Input:     block.Input,
			})
		case KindIgnored:
			// Unknown block type: explicitly skipped.
		}
	}

	if msg.Usage != nil {
		p.emit(Event{Kind: KindUsage, Usage: &Usage{
			InputTokens:         msg.Usage.InputTokens,
			OutputTokens:        msg.Usage.OutputTokens,
			CacheCreationTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadTokens:     msg.Usage.CacheReadInputTokens,
		}})
	}
}

// classifyUser emits a tool result per tool_result block. Other block
// types in user messages are echoes of our own input and are ignored.
func (p *Processor) classifyUser(raw json.RawMessage) {
	if raw == nil {
		return
	}
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	for _, block := range msg.Content {
		if block.Type != "tool_result" {
			continue
		}
		p.emit(Event{
			Kind:      KindToolResult,
			ToolUseID: block.ToolUseID,
			Content:   flattenContent(block.Content),
			IsError:   block.IsError,
		})
	}
}

// classifySystem passes the system payload through and keeps the mode
// machine in sync when the agent reports a permission mode change. The
// machine fires its own change notification; the system event is emitted
// regardless.
func (p *Processor) classifySystem(wl wireLine) {
	if wl.PermissionMode != "" && p.modes != nil {
		if err := p.modes.Update(wl.PermissionMode); err != nil {
			log.Printf("stream: agent reported unrecognized permission mode %q", wl.PermissionMode)
		}
	}

	p.emit(Event{Kind: KindSystem, System: &System{
		Subtype:        wl.Subtype,
		SessionID:      wl.SessionID,
		Tools:          wl.Tools,
		Model:          wl.Model,
		PermissionMode: wl.PermissionMode,
		CWD:            wl.CWD,
	}})
}

// classifyControlRequest emits a permission or question event depending
// on the request subtype. Unknown subtypes are ignored.
func (p *Processor) classifyControlRequest(wl wireLine) {
	if wl.Request == nil {
		return
	}
	var req wireRequest
	if err := json.Unmarshal(wl.Request, &req); err != nil {
		return
	}

	switch req.Subtype {
	case "can_use_tool":
		p.emit(Event{
			Kind:      KindPermission,
			RequestID: wl.RequestID,
			ToolName:  req.ToolName,
			Input:     req.Input,
		})
	case "ask_user":
		p.emit(Event{
			Kind:      KindQuestion,
			RequestID: wl.RequestID,
			Questions: req.Questions,
			Answers:   req.Answers,
		})
	}
}

// classifyBlock maps a wire block type to its event kind. Unknown types
// map to KindIgnored so the caller handles them as an explicit case.
func classifyBlock(blockType string) Kind {
	switch blockType {
	case "text":
		return KindText
	case "thinking":
		return KindThinking
	case "tool_use":
		return KindToolUse
	default:
		return KindIgnored
	}
}

// flattenContent renders a tool_result content field as plain text. The
// wire allows either a bare string or an array of text blocks.
func flattenContent(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var b strings.Builder
		for _, block := range blocks {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		return b.String()
	}

	return string(raw)
}
