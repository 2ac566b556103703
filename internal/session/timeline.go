// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"strings"
)

// Timeline append rules, in the priority order they are evaluated for
// each incoming event. All methods are called with the Store lock held
// and return a copy of the entry that was appended or mutated, so the
// caller can broadcast it.

// appendEntry assigns the next sequence number and appends.
func (s *Session) appendEntry(e Entry) Entry {
	s.nextSeq++
	e.Seq = s.nextSeq
	s.entries = append(s.entries, e)
	return e
}

// appendText adds an assistant text fragment. If the trailing entry is
// already an assistant entry, the fragment is appended to its text so
// one logical message stays one entry no matter how the network chunked
// it; otherwise a new entry starts.
func (s *Session) appendText(text string) Entry {
	if n := len(s.entries); n > 0 && s.entries[n-1].Kind == EntryAssistant {
		s.entries[n-1].Text += text
		return s.entries[n-1]
	}
	return s.appendEntry(Entry{Kind: EntryAssistant, Text: text})
}

// appendThinking is appendText for thinking fragments.
func (s *Session) appendThinking(text string) Entry {
	if n := len(s.entries); n > 0 && s.entries[n-1].Kind == EntryThinking {
		s.entries[n-1].Text += text
		return s.entries[n-1]
	}
	return s.appendEntry(Entry{Kind: EntryThinking, Text: text})
}

// appendUser adds a user message. User entries never coalesce.
func (s *Session) appendUser(text string, images []string) Entry {
	return s.appendEntry(Entry{Kind: EntryUser, Text: text, Images: images})
}

// appendToolUse always starts a new, open tool entry keyed by id.
func (s *Session) appendToolUse(id, name string, input json.RawMessage) Entry {
	return s.appendEntry(Entry{
		Kind:      EntryTool,
		ToolUseID: id,
		ToolKind:  toolKindForName(name),
		ToolName:  name,
		Input:     input,
	})
}

// openTool finds the open (incomplete) tool entry with the given id.
func (s *Session) openTool(toolUseID string) *Entry {
	for i := range s.entries {
		e := &s.entries[i]
		if e.Kind == EntryTool && e.ToolUseID == toolUseID && !e.IsComplete {
			return e
		}
	}
	return nil
}

// appendToolOutput concatenates a streamed output delta onto the open
// tool entry in place. A delta with no open entry is dropped: mid-stream
// output never creates orphan entries.
func (s *Session) appendToolOutput(toolUseID, text string) (Entry, bool) {
	e := s.openTool(toolUseID)
	if e == nil {
		return Entry{}, false
	}
	e.Output += text
	return *e, true
}

// completeTool closes the open tool entry for a result. Streamed output,
// if any accumulated, wins over the result content. With no open entry
// the result is demoted to a standalone, immutable entry — a documented
// fallback, not an error.
func (s *Session) completeTool(toolUseID, content string, isError bool) Entry {
	if e := s.openTool(toolUseID); e != nil {
		e.IsComplete = true
		e.IsError = isError
		if e.Output == "" {
			e.Output = content
		}
		return *e
	}
	return s.appendEntry(Entry{
		Kind:       EntryToolResult,
		ToolUseID:  toolUseID,
		Output:     content,
		IsComplete: true,
		IsError:    isError,
	})
}

// appendSystem adds a standalone system notice.
func (s *Session) appendSystem(title, message, severity string) Entry {
	return s.appendEntry(Entry{
		Kind:     EntrySystem,
		Title:    title,
		Message:  message,
		Severity: severity,
	})
}

// appendQuestion adds a standalone question entry.
func (s *Session) appendQuestion(text string, answers []string) Entry {
	return s.appendEntry(Entry{Kind: EntryQuestion, Text: text, Answers: answers})
}

// toolKindForName derives the display kind from the tool name.
func toolKindForName(name string) ToolKind {
	switch {
	case name == "Bash":
		return ToolBash
	case strings.HasPrefix(name, "mcp__"):
		return ToolMCP
	default:
		return ToolGeneric
	}
}
