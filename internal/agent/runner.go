// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package agent runs the coding-agent CLI as a subprocess per session
// and relays its stream protocol.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/mode"
	"github.com/arborhq/arbor/internal/stream"
)

// stdinUserMessage is the JSON format for sending user messages to the
// agent's stdin.
type stdinUserMessage struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Message   stdinMessageInner `json:"message"`
}

type stdinMessageInner struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Source string `json:"source,omitempty"` // base64 image payload
}

// controlResponse answers a control_request (permission or question).
type controlResponse struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response"`
}

// Runner owns one agent subprocess. The process runs on a pty so the
// agent believes it is interactive; permission-mode changes are actuated
// by writing the reverse-tab keypress to that pty rather than by any
// structured command.
type Runner struct {
	mu      sync.Mutex
	stdinMu sync.Mutex // serializes pty writes

	id  string // our session id (not the agent's)
	cfg config.AgentConfig

	cmd        *exec.Cmd
	ptmx       *os.File
	cancel     context.CancelFunc
	started    bool
	processGen int // prevents stale readLoop cleanup after restart

	modes *mode.Machine
	proc  *stream.Processor

	// onExit fires when the current process exits (not on restart of an
	// older generation). Set by the manager before Start.
	onExit func()
}

// NewRunner creates a runner for one session. onEvent receives every
// classified stream event; onModeChange fires when the agent confirms a
// permission-mode transition.
func NewRunner(id string, cfg config.AgentConfig, onEvent func(ev stream.Event), onModeChange func(m mode.Mode)) *Runner {
	r := &Runner{id: id, cfg: cfg}
	r.modes = mode.NewMachine(onModeChange)
	if err := r.modes.SetInitial(cfg.PermissionMode); err != nil {
		log.Printf("agent [%s]: initial permission mode %q: %v", id, cfg.PermissionMode, err)
	}
	r.proc = stream.NewProcessor(onEvent, r.modes)
	return r
}

// ID returns the session id this runner serves.
func (r *Runner) ID() string { return r.id }

// Mode returns the current confirmed permission mode.
func (r *Runner) Mode() mode.Mode { return r.modes.Current() }

// Start launches the agent process if it is not already running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	gen := r.processGen + 1
	r.processGen = gen
	cfg := r.cfg
	r.mu.Unlock()

	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--input-format", "stream-json",
		"--permission-prompt-tool", "stdio",
		"--include-partial-messages",
	}
	if cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", cfg.PermissionMode)
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	args = append(args, cfg.Args...)

	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, cfg.Command, args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start %s: %w", cfg.Command, err)
	}

	r.mu.Lock()
	r.cmd = cmd
	r.ptmx = ptmx
	r.cancel = cancel
	r.started = true
	// A fresh process starts a fresh line stream; drop any partial line
	// buffered from the previous one.
	r.proc.ResetBuffer()
	r.mu.Unlock()

	go r.readLoop(ptmx, cmd, gen)

	return nil
}

// readLoop feeds raw pty output into the stream processor. Chunk
// boundaries are whatever the pty delivers; the processor reassembles
// lines.
func (r *Runner) readLoop(ptmx *os.File, cmd *exec.Cmd, gen int) {
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			r.proc.HandleChunk(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("agent [%s]: pty read: %v", r.id, err)
			}
			break
		}
	}

	cmd.Wait()

	r.mu.Lock()
	current := r.processGen == gen
	if current {
		r.started = false
		r.ptmx = nil
		r.cmd = nil
	}
	onExit := r.onExit
	r.mu.Unlock()

	log.Printf("agent [%s]: process exited", r.id)
	if current && onExit != nil {
		onExit()
	}
}

// write sends raw bytes to the agent's pty.
func (r *Runner) write(p []byte) error {
	r.mu.Lock()
	ptmx := r.ptmx
	r.mu.Unlock()
	if ptmx == nil {
		return fmt.Errorf("agent process not running")
	}

	r.stdinMu.Lock()
	defer r.stdinMu.Unlock()
	if _, err := ptmx.Write(p); err != nil {
		return fmt.Errorf("pty write: %w", err)
	}
	return nil
}

// writeJSON sends one NDJSON line to the agent.
func (r *Runner) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal stdin message: %w", err)
	}
	return r.write(append(data, '\n'))
}

// SendUserMessage sends user text (and optional base64 images) to the
// agent, tagged with the agent's own session id when known.
func (r *Runner) SendUserMessage(agentSID, text string, images []string) error {
	content := []contentBlock{{Type: "text", Text: text}}
	for _, img := range images {
		content = append(content, contentBlock{Type: "image", Source: img})
	}
	return r.writeJSON(stdinUserMessage{
		Type:      "user",
		SessionID: agentSID,
		Message:   stdinMessageInner{Role: "user", Content: content},
	})
}

// RequestMode asks the agent to switch permission mode by pressing
// reverse-tab the required number of times. The local mode does not
// change until the agent echoes the new mode in a system event.
// Returns false if the target already matches the current mode.
func (r *Runner) RequestMode(target string) (bool, error) {
	return r.modes.RequestChange(target, r.write)
}

// RespondPermission answers a pending tool-permission request.
func (r *Runner) RespondPermission(requestID string, allow bool, message string) error {
	behavior := "deny"
	if allow {
		behavior = "allow"
	}
	payload, err := json.Marshal(map[string]interface{}{
		"behavior": behavior,
		"message":  message,
	})
	if err != nil {
		return fmt.Errorf("marshal permission response: %w", err)
	}
	return r.writeJSON(controlResponse{
		Type:      "control_response",
		RequestID: requestID,
		Response:  payload,
	})
}

// RespondQuestion answers a pending question from the agent.
func (r *Runner) RespondQuestion(requestID, answer string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"answer": answer,
	})
	if err != nil {
		return fmt.Errorf("marshal question response: %w", err)
	}
	return r.writeJSON(controlResponse{
		Type:      "control_response",
		RequestID: requestID,
		Response:  payload,
	})
}

// Interrupt sends the escape keypress, the interactive gesture that
// stops the agent's current turn.
func (r *Runner) Interrupt() error {
	return r.write([]byte{0x1b})
}

// Running reports whether the agent process is up.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Close tears the agent process down.
func (r *Runner) Close() {
	r.mu.Lock()
	cancel := r.cancel
	ptmx := r.ptmx
	r.started = false
	r.cancel = nil
	r.mu.Unlock()

	if ptmx != nil {
		ptmx.Close()
	}
	if cancel != nil {
		cancel()
	}
}
