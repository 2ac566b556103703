// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arborhq/arbor/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is a message from the UI over the chat WebSocket.
type clientMessage struct {
	Type      string   `json:"type"` // message|select|mode|permission_response|question_response|interrupt
	SessionID string   `json:"session_id,omitempty"`
	Content   string   `json:"content,omitempty"`
	Images    []string `json:"images,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	Allow     bool     `json:"allow,omitempty"`
	Answer    string   `json:"answer,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// serverMessage is a message to the UI. A snapshot carries full state on
// connect; updates stream after it.
type serverMessage struct {
	Type string `json:"type"` // snapshot|update|error

	// Snapshot fields.
	Sessions   []session.Info             `json:"sessions,omitempty"`
	SessionID  string                     `json:"session_id,omitempty"`
	Entries    []session.Entry            `json:"entries,omitempty"`
	Usage      *session.Usage             `json:"usage,omitempty"`
	Mode       string                     `json:"mode,omitempty"`
	Permission *session.PendingPermission `json:"permission,omitempty"`
	Question   *session.PendingQuestion   `json:"question,omitempty"`

	Update  *session.Update `json:"update,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ChatHandler handles the chat WebSocket: full state on connect, then a
// relay of store updates out and UI commands in.
type ChatHandler struct {
	store  *session.Store
	agents AgentControl

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(store *session.Store, agents AgentControl) *ChatHandler {
	return &ChatHandler{
		store:  store,
		agents: agents,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// Shutdown closes all active WebSocket connections.
func (h *ChatHandler) Shutdown() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// WebSocket runs one chat connection.
func (h *ChatHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Write mutex for thread-safe WebSocket writes
	var writeMu sync.Mutex
	writeJSON := func(msg serverMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(msg)
	}

	// Subscribe BEFORE snapshotting so no update between the two is lost;
	// a duplicate of a snapshotted change is harmless, a gap is not.
	subCh := h.store.Subscribe()
	defer h.store.Unsubscribe(subCh)

	writeJSON(h.snapshot())

	go func() {
		for u := range subCh {
			update := u
			if err := writeJSON(serverMessage{Type: "update", Update: &update}); err != nil {
				return
			}
		}
	}()

	// Ping/pong keepalive.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	// Read pump.
	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			continue
		}
		if err := h.handleClientMessage(msg); err != nil {
			writeJSON(serverMessage{Type: "error", Message: err.Error()})
		}
	}
}

// snapshot builds the full-state message sent on connect.
func (h *ChatHandler) snapshot() serverMessage {
	msg := serverMessage{
		Type:     "snapshot",
		Sessions: h.store.Sessions(),
	}

	activeID := h.store.ActiveID()
	if activeID == "" {
		return msg
	}
	msg.SessionID = activeID

	if entries, err := h.store.Timeline(activeID); err == nil {
		msg.Entries = entries
	}
	if usage, err := h.store.UsageFor(activeID); err == nil {
		msg.Usage = &usage
	}
	if m, err := h.agents.Mode(activeID); err == nil {
		msg.Mode = string(m)
	}
	// Re-send pending prompts so a reconnecting client can answer them.
	if perm, q, err := h.store.PendingFor(activeID); err == nil {
		msg.Permission = perm
		msg.Question = q
	}
	return msg
}

// handleClientMessage applies one UI command. Errors are reported back
// over the socket; they never close the connection.
func (h *ChatHandler) handleClientMessage(msg clientMessage) error {
	switch msg.Type {
	case "message":
		if msg.Content == "" {
			return nil
		}
		return h.store.SendMessage(msg.Content, msg.Images)

	case "select":
		return h.store.SelectSession(msg.SessionID)

	case "mode":
		_, err := h.agents.RequestMode(h.target(msg), msg.Mode)
		return err

	case "permission_response":
		id := h.target(msg)
		pending, err := h.store.AnswerPermission(id, msg.RequestID)
		if err != nil {
			return err
		}
		return h.agents.RespondPermission(id, pending.RequestID, msg.Allow, msg.Message)

	case "question_response":
		id := h.target(msg)
		pending, err := h.store.AnswerQuestion(id, msg.RequestID)
		if err != nil {
			return err
		}
		return h.agents.RespondQuestion(id, pending.RequestID, msg.Answer)

	case "interrupt":
		id := h.target(msg)
		if err := h.store.Interrupt(id); err != nil {
			return err
		}
		if err := h.agents.Interrupt(id); err != nil {
			log.Printf("chat: interrupt session %s: %v", id, err)
		}
		return nil
	}
	return nil
}

// target resolves the session a command addresses: explicit id wins,
// otherwise the active session.
func (h *ChatHandler) target(msg clientMessage) string {
	if msg.SessionID != "" {
		return msg.SessionID
	}
	return h.store.ActiveID()
}
