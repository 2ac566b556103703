// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements Arbor's HTTP and WebSocket handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/internal/mode"
	"github.com/arborhq/arbor/internal/session"
)

// AgentControl is the slice of the agent layer the handlers need.
type AgentControl interface {
	StartSession(ctx context.Context) (string, error)
	StopSession(sessionID string)
	Mode(sessionID string) (mode.Mode, error)
	RequestMode(sessionID, target string) (bool, error)
	RespondPermission(sessionID, requestID string, allow bool, message string) error
	RespondQuestion(sessionID, requestID, answer string) error
	Interrupt(sessionID string) error
}

// SessionHandler handles session REST requests.
type SessionHandler struct {
	store  *session.Store
	agents AgentControl
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store *session.Store, agents AgentControl) *SessionHandler {
	return &SessionHandler{store: store, agents: agents}
}

// List returns all sessions in creation order.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.store.Sessions())
}

// Create starts a new agent session. The session appears in List only
// once the agent confirms it, so the response is 202 with the id the
// confirmation will carry.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}

	id, err := h.agents.StartSession(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrAgentError, err.Error())
		return
	}
	h.store.RegisterCreation(id, body.Name)

	WriteJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// Get returns one session's timeline.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entries, err := h.store.Timeline(id)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"entries": entries,
	})
}

// Delete tears down a session's agent process and removes its state.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	h.agents.StopSession(id)
	if err := h.store.DeleteSession(id); err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Select makes a session the active one.
func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.SelectSession(id); err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Interrupt stops a session's current turn and resets its local state.
func (h *SessionHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.store.Interrupt(id); err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	// Best effort: the local reset stands even if the keypress fails.
	if err := h.agents.Interrupt(id); err != nil {
		log.Printf("api: interrupt session %s: %v", id, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Usage returns a session's accumulated token usage.
func (h *SessionHandler) Usage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	usage, err := h.store.UsageFor(id)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, usage)
}

// GetMode returns a session's confirmed permission mode.
func (h *SessionHandler) GetMode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := h.agents.Mode(id)
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"mode": string(m)})
}

// SetMode requests a permission-mode change. The response says only
// whether keypresses were emitted; the confirmed mode arrives through
// the WebSocket when the agent echoes it.
func (h *SessionHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}

	requested, err := h.agents.RequestMode(id, body.Mode)
	if err != nil {
		if errors.Is(err, mode.ErrUnknownMode) {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
			return
		}
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]bool{"requested": requested})
}

// AnswerPermission answers a session's pending tool-permission request.
func (h *SessionHandler) AnswerPermission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		RequestID string `json:"request_id"`
		Allow     bool   `json:"allow"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}

	pending, err := h.store.AnswerPermission(id, body.RequestID)
	if err != nil {
		WriteError(w, http.StatusConflict, ErrConflict, err.Error())
		return
	}
	if err := h.agents.RespondPermission(id, pending.RequestID, body.Allow, body.Message); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrAgentError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AnswerQuestion answers a session's pending question.
func (h *SessionHandler) AnswerQuestion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		RequestID string `json:"request_id"`
		Answer    string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}

	pending, err := h.store.AnswerQuestion(id, body.RequestID)
	if err != nil {
		WriteError(w, http.StatusConflict, ErrConflict, err.Error())
		return
	}
	if err := h.agents.RespondQuestion(id, pending.RequestID, body.Answer); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrAgentError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendMessage sends user text to the active session, creating a session
// first when none exists.
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text   string   `json:"text"`
		Images []string `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if body.Text == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "text is required")
		return
	}

	if err := h.store.SendMessage(body.Text, body.Images); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrSessionError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
