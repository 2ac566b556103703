// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/mode"
)

// collect returns a processor that appends events to the returned slice.
func collect(modes *mode.Machine) (*Processor, *[]Event) {
	var events []Event
	p := NewProcessor(func(ev Event) { events = append(events, ev) }, modes)
	return p, &events
}

func TestHandleChunkSingleLine(t *testing.T) {
	p, events := collect(nil)
	p.HandleChunk([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"Hi"}]}}` + "\n"))

	require.Len(t, *events, 1)
	assert.Equal(t, KindText, (*events)[0].Kind)
	assert.Equal(t, "Hi", (*events)[0].Text)
}

func TestChunkInvariance(t *testing.T) {
	input := `{"type":"assistant","message":{"content":[{"type":"text","text":"Hi"}]}}` + "\n" +
		`{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"hmm"},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}],"usage":{"input_tokens":10,"output_tokens":3}}}` + "\n" +
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}}` + "\n"

	// Feed as one chunk.
	pOne, whole := collect(nil)
	pOne.HandleChunk([]byte(input))

	// Feed byte by byte.
	pBytes, byBytes := collect(nil)
	for i := 0; i < len(input); i++ {
		pBytes.HandleChunk([]byte{input[i]})
	}

	// Feed at arbitrary split points.
	for _, split := range []int{1, 7, 35, len(input) / 2, len(input) - 2} {
		pSplit, bySplit := collect(nil)
		pSplit.HandleChunk([]byte(input[:split]))
		pSplit.HandleChunk([]byte(input[split:]))
		assert.Equal(t, *whole, *bySplit, "split at %d", split)
	}

	assert.Equal(t, *whole, *byBytes)
	require.Len(t, *whole, 5) // text, thinking, tool_use, usage, tool_result
	assert.Equal(t, KindText, (*whole)[0].Kind)
	assert.Equal(t, KindThinking, (*whole)[1].Kind)
	assert.Equal(t, KindToolUse, (*whole)[2].Kind)
	assert.Equal(t, KindUsage, (*whole)[3].Kind)
	assert.Equal(t, KindToolResult, (*whole)[4].Kind)
}

func TestPartialTailRetainedAcrossChunks(t *testing.T) {
	p, events := collect(nil)

	p.HandleChunk([]byte(`{"type":"assistant","mess`))
	assert.Empty(t, *events, "no newline yet, nothing should be emitted")

	p.HandleChunk([]byte(`age":{"content":[{"type":"text","text":"joined"}]}}` + "\n"))
	require.Len(t, *events, 1)
	assert.Equal(t, "joined", (*events)[0].Text)
}

func TestANSITransparency(t *testing.T) {
	plain := `{"type":"assistant","message":{"content":[{"type":"text","text":"Hi"}]}}` + "\n"
	wrapped := "\x1b[32m" + `{"type":"assistant","message":{"content":[{"type":"text","text":"Hi"}]}}` + "\x1b[0m\n"

	pPlain, plainEvents := collect(nil)
	pPlain.HandleChunk([]byte(plain))

	pWrapped, wrappedEvents := collect(nil)
	pWrapped.HandleChunk([]byte(wrapped))

	assert.Equal(t, *plainEvents, *wrappedEvents)
}

func TestEscapeSplitAcrossChunks(t *testing.T) {
	p, events := collect(nil)

	// The escape sequence itself is split mid-sequence; the line buffer
	// reassembles it before stripping.
	p.HandleChunk([]byte("\x1b["))
	p.HandleChunk([]byte("1;32m" + `{"type":"result","result":"done"}` + "\x1b[0m\n"))

	require.Len(t, *events, 1)
	assert.Equal(t, KindResult, (*events)[0].Kind)
	assert.Equal(t, "done", (*events)[0].Text)
}

func TestMalformedLinesDropped(t *testing.T) {
	p, events := collect(nil)
	p.HandleChunk([]byte("Starting agent...\n"))
	p.HandleChunk([]byte("{not json\n"))
	p.HandleChunk([]byte("\n"))
	p.HandleChunk([]byte(`{"type":"wat","message":{}}` + "\n")) // unknown discriminant
	assert.Empty(t, *events)
}

func TestUnknownBlockTypesIgnored(t *testing.T) {
	p, events := collect(nil)
	p.HandleChunk([]byte(`{"type":"assistant","message":{"content":[{"type":"image","text":"x"},{"type":"text","text":"kept"}]}}` + "\n"))

	require.Len(t, *events, 1)
	assert.Equal(t, "kept", (*events)[0].Text)
}

func TestUsageMissingFieldsDefaultZero(t *testing.T) {
	p, events := collect(nil)
	p.HandleChunk([]byte(`{"type":"assistant","message":{"content":[],"usage":{"output_tokens":7}}}` + "\n"))

	require.Len(t, *events, 1)
	u := (*events)[0].Usage
	require.NotNil(t, u)
	assert.Equal(t, 0, u.InputTokens)
	assert.Equal(t, 7, u.OutputTokens)
	assert.Equal(t, 0, u.CacheCreationTokens)
	assert.Equal(t, 0, u.CacheReadTokens)
}

func TestToolResultDefaults(t *testing.T) {
	p, events := collect(nil)
	p.HandleChunk([]byte(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t9","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}]}}` + "\n"))

	require.Len(t, *events, 1)
	ev := (*events)[0]
	assert.Equal(t, KindToolResult, ev.Kind)
	assert.Equal(t, "t9", ev.ToolUseID)
	assert.Equal(t, "ab", ev.Content, "array content flattened to text")
	assert.False(t, ev.IsError, "is_error defaults to false")
}

func TestSystemUpdatesModeMachine(t *testing.T) {
	var changes []mode.Mode
	m := mode.NewMachine(func(mo mode.Mode) { changes = append(changes, mo) })

	p, events := collect(m)
	p.HandleChunk([]byte(`{"type":"system","subtype":"init","session_id":"s1","model":"opus","permissionMode":"plan","cwd":"/tmp"}` + "\n"))

	require.Len(t, *events, 1)
	sys := (*events)[0].System
	require.NotNil(t, sys)
	assert.Equal(t, "init", sys.Subtype)
	assert.Equal(t, "s1", sys.SessionID)
	assert.Equal(t, "opus", sys.Model)
	assert.Equal(t, "/tmp", sys.CWD)

	assert.Equal(t, []mode.Mode{mode.Plan}, changes)
	assert.Equal(t, mode.Plan, m.Current())

	// Same mode again: system event still emitted, machine silent.
	p.HandleChunk([]byte(`{"type":"system","subtype":"status","permissionMode":"plan"}` + "\n"))
	assert.Len(t, *events, 2)
	assert.Len(t, changes, 1)
}

func TestResultPassThrough(t *testing.T) {
	p, events := collect(nil)
	p.HandleChunk([]byte(`{"type":"result","result":"all done","session_id":"s1","modelUsage":[{"model":"opus","input_tokens":5}]}` + "\n"))

	require.Len(t, *events, 1)
	ev := (*events)[0]
	assert.Equal(t, KindResult, ev.Kind)
	assert.Equal(t, "all done", ev.Text)
	assert.Equal(t, "s1", ev.SessionID)
	assert.JSONEq(t, `[{"model":"opus","input_tokens":5}]`, string(ev.ModelUsage))
}

func TestToolOutputDelta(t *testing.T) {
	p, events := collect(nil)
	p.HandleChunk([]byte(`{"type":"tool_output","tool_use_id":"t1","output":"line 1\n"}` + "\n"))

	require.Len(t, *events, 1)
	assert.Equal(t, KindToolOutput, (*events)[0].Kind)
	assert.Equal(t, "t1", (*events)[0].ToolUseID)
	assert.Equal(t, "line 1\n", (*events)[0].Text)
}

func TestControlRequestClassification(t *testing.T) {
	p, events := collect(nil)
	p.HandleChunk([]byte(`{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"rm -rf"}}}` + "\n"))
	p.HandleChunk([]byte(`{"type":"control_request","request_id":"r2","request":{"subtype":"ask_user","questions":["Proceed?"],"answers":["yes","no"]}}` + "\n"))
	p.HandleChunk([]byte(`{"type":"control_request","request_id":"r3","request":{"subtype":"mystery"}}` + "\n"))

	require.Len(t, *events, 2)
	perm := (*events)[0]
	assert.Equal(t, KindPermission, perm.Kind)
	assert.Equal(t, "r1", perm.RequestID)
	assert.Equal(t, "Bash", perm.ToolName)

	q := (*events)[1]
	assert.Equal(t, KindQuestion, q.Kind)
	assert.Equal(t, "r2", q.RequestID)
	assert.Equal(t, []string{"Proceed?"}, q.Questions)
	assert.Equal(t, []string{"yes", "no"}, q.Answers)
}

func TestResetBufferDropsTail(t *testing.T) {
	p, events := collect(nil)

	p.HandleChunk([]byte(`{"type":"assistant","mess`))
	p.ResetBuffer()
	// New, complete line after reconnect must not be stitched to the
	// abandoned prefix.
	p.HandleChunk([]byte(`{"type":"result","result":"ok"}` + "\n"))

	require.Len(t, *events, 1)
	assert.Equal(t, KindResult, (*events)[0].Kind)
}

func TestScenarioCoalescableFragments(t *testing.T) {
	p, events := collect(nil)
	p.HandleChunk([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"Hi"}]}}` + "\n"))
	p.HandleChunk([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":" there"}]}}` + "\n"))

	require.Len(t, *events, 2)
	assert.Equal(t, "Hi", (*events)[0].Text)
	assert.Equal(t, " there", (*events)[1].Text)
}
