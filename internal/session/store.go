// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/arborhq/arbor/internal/stream"
)

// ErrNoSession is returned when operating on an unknown session id.
var ErrNoSession = errors.New("session not found")

// Update is one state change pushed to subscribers (WebSocket clients).
type Update struct {
	Type      string `json:"type"` // entry|usage|status|sessions|permission|question|mode|result
	SessionID string `json:"session_id,omitempty"`

	Entry      *Entry             `json:"entry,omitempty"`
	Usage      *Usage             `json:"usage,omitempty"`
	Status     Status             `json:"status,omitempty"`
	Sessions   []Info             `json:"sessions,omitempty"`
	Permission *PendingPermission `json:"permission,omitempty"`
	Question   *PendingQuestion   `json:"question,omitempty"`
	Mode       string             `json:"mode,omitempty"`

	// Result fields: final turn text and the agent's authoritative
	// per-model usage, passed through untouched.
	Result     string          `json:"result,omitempty"`
	ModelUsage json.RawMessage `json:"model_usage,omitempty"`
}

// Options configures a Store.
type Options struct {
	// NameMaxLen bounds derived session names (0 = default).
	NameMaxLen int

	// RequestCreate asks the agent layer to create a session and
	// returns its id. The session record itself is created only when
	// the agent confirms with a system init event.
	RequestCreate func(name string) (string, error)

	// Dispatch sends user text outward to the agent for a session.
	Dispatch func(sessionID, text string, images []string) error
}

// Store is the arena of sessions and the single writer for all of them.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []string // creation order; drives successor selection
	activeID string

	// Single-slot register for a message typed before its session
	// existed. Flushed exactly once on creation confirmation.
	pending *pendingMessage

	// names holds the requested display name for sessions whose
	// creation has been requested but not yet confirmed.
	names map[string]string

	nameMaxLen    int
	requestCreate func(name string) (string, error)
	dispatch      func(sessionID, text string, images []string) error

	subMu sync.Mutex
	subs  map[chan Update]struct{}
}

// NewStore creates an empty session store.
func NewStore(opts Options) *Store {
	maxLen := opts.NameMaxLen
	if maxLen <= 0 {
		maxLen = DefaultNameMaxLen
	}
	return &Store{
		sessions:      make(map[string]*Session),
		names:         make(map[string]string),
		nameMaxLen:    maxLen,
		requestCreate: opts.RequestCreate,
		dispatch:      opts.Dispatch,
		subs:          make(map[chan Update]struct{}),
	}
}

// Subscribe returns a channel receiving state updates. The channel is
// buffered; slow subscribers drop updates rather than block the Store.
func (s *Store) Subscribe() chan Update {
	ch := make(chan Update, 100)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber. Safe to call twice.
func (s *Store) Unsubscribe(ch chan Update) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
}

// Shutdown closes all subscriber channels.
func (s *Store) Shutdown() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		close(ch)
	}
	s.subs = make(map[chan Update]struct{})
}

// Broadcast sends an update to all subscribers, dropping on full buffers.
func (s *Store) Broadcast(u Update) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- u:
		default:
			// Drop if subscriber buffer is full.
		}
	}
}

// HandleEvent folds one classified event into the session's state. This
// is the single ingestion entry point for both the subprocess stream and
// structurally identical server push messages. Events for unknown
// sessions are dropped, except system init events, which ARE the
// session-creation confirmation.
func (s *Store) HandleEvent(sessionID string, ev stream.Event) {
	var updates []Update
	var flush *pendingMessage

	s.mu.Lock()
	sess := s.sessions[sessionID]

	if sess == nil {
		if ev.Kind != stream.KindSystem || ev.System == nil || ev.System.Subtype != "init" {
			s.mu.Unlock()
			return
		}
		sess, updates, flush = s.confirmCreated(sessionID, ev.System)
		s.mu.Unlock()
		for _, u := range updates {
			s.Broadcast(u)
		}
		if flush != nil {
			if err := s.dispatch(sessionID, flush.text, flush.images); err != nil {
				log.Printf("session: dispatch held message for %s: %v", sessionID, err)
			}
		}
		return
	}

	switch ev.Kind {
	case stream.KindText:
		entry := sess.appendText(ev.Text)
		updates = append(updates, s.setStatus(sess, StatusRunning)...)
		updates = append(updates, Update{Type: "entry", SessionID: sessionID, Entry: &entry})

	case stream.KindThinking:
		entry := sess.appendThinking(ev.Text)
		updates = append(updates, s.setStatus(sess, StatusRunning)...)
		updates = append(updates, Update{Type: "entry", SessionID: sessionID, Entry: &entry})

	case stream.KindToolUse:
		entry := sess.appendToolUse(ev.ToolUseID, ev.ToolName, ev.Input)
		updates = append(updates, s.setStatus(sess, StatusRunning)...)
		updates = append(updates, Update{Type: "entry", SessionID: sessionID, Entry: &entry})

	case stream.KindToolOutput:
		if entry, ok := sess.appendToolOutput(ev.ToolUseID, ev.Text); ok {
			updates = append(updates, Update{Type: "entry", SessionID: sessionID, Entry: &entry})
		}
		// Orphan output deltas are dropped.

	case stream.KindToolResult:
		entry := sess.completeTool(ev.ToolUseID, ev.Content, ev.IsError)
		updates = append(updates, Update{Type: "entry", SessionID: sessionID, Entry: &entry})

	case stream.KindUsage:
		if ev.Usage != nil {
			sess.usage.Accrue(sess.model, TokenTotals{
				Input:      ev.Usage.InputTokens,
				Output:     ev.Usage.OutputTokens,
				CacheRead:  ev.Usage.CacheReadTokens,
				CacheWrite: ev.Usage.CacheCreationTokens,
			})
			snap := sess.usage.snapshot()
			updates = append(updates, Update{Type: "usage", SessionID: sessionID, Usage: &snap})
		}

	case stream.KindSystem:
		if ev.System != nil {
			updates = append(updates, s.applySystem(sess, ev.System)...)
		}

	case stream.KindPermission:
		// Last-request-wins: an unanswered slot is simply overwritten.
		sess.pendingPermission = &PendingPermission{
			SessionID: sessionID,
			RequestID: ev.RequestID,
			ToolName:  ev.ToolName,
			Input:     ev.Input,
		}
		updates = append(updates, s.setStatus(sess, StatusWaitingPermission)...)
		updates = append(updates, Update{Type: "permission", SessionID: sessionID, Permission: sess.pendingPermission})

	case stream.KindQuestion:
		entry := sess.appendQuestion(strings.Join(ev.Questions, "\n"), ev.Answers)
		sess.pendingQuestion = &PendingQuestion{
			SessionID: sessionID,
			RequestID: ev.RequestID,
			Questions: ev.Questions,
			Answers:   ev.Answers,
		}
		updates = append(updates, s.setStatus(sess, StatusWaitingInput)...)
		updates = append(updates,
			Update{Type: "entry", SessionID: sessionID, Entry: &entry},
			Update{Type: "question", SessionID: sessionID, Question: sess.pendingQuestion})

	case stream.KindResult:
		// A result ends the turn: back to idle, pending slots void.
		// The result text is not appended — it duplicates the assistant
		// entries already streamed. The modelUsage array is passed
		// through untouched; it never feeds the local accumulator.
		sess.pendingPermission = nil
		sess.pendingQuestion = nil
		updates = append(updates, s.setStatus(sess, StatusIdle)...)
		updates = append(updates, Update{
			Type:       "result",
			SessionID:  sessionID,
			Result:     ev.Text,
			ModelUsage: ev.ModelUsage,
		})
	}
	s.mu.Unlock()

	for _, u := range updates {
		s.Broadcast(u)
	}
}

// confirmCreated turns a creation request into a live session record.
// Caller holds the lock. Returns the flush instruction for a held
// message, if any; the dispatch itself happens outside the lock.
func (s *Store) confirmCreated(sessionID string, sys *stream.System) (*Session, []Update, *pendingMessage) {
	name := s.names[sessionID]
	delete(s.names, sessionID)
	if name == "" {
		name = fallbackName
	}

	sess := &Session{
		id:       sessionID,
		name:     name,
		status:   StatusIdle,
		created:  time.Now(),
		workDir:  sys.CWD,
		model:    sys.Model,
		agentSID: sys.SessionID,
	}
	s.sessions[sessionID] = sess
	s.order = append(s.order, sessionID)
	if s.activeID == "" {
		s.activeID = sessionID
	}

	updates := []Update{{Type: "sessions", Sessions: s.sessionInfos()}}

	// Flush the held message exactly once: clearing the register is the
	// guard against duplicate confirmations re-sending.
	var flush *pendingMessage
	if pm := s.pending; pm != nil && (pm.sessionID == "" || pm.sessionID == sessionID) {
		s.pending = nil
		flush = pm
		entry := sess.appendUser(pm.text, pm.images)
		sess.status = StatusRunning
		updates = append(updates,
			Update{Type: "entry", SessionID: sessionID, Entry: &entry},
			Update{Type: "status", SessionID: sessionID, Status: StatusRunning})
	}

	return sess, updates, flush
}

// applySystem handles a non-init system event for an existing session:
// refresh reported fields and append a standalone notice entry. Caller
// holds the lock.
func (s *Store) applySystem(sess *Session, sys *stream.System) []Update {
	if sys.Model != "" {
		sess.model = sys.Model
	}
	if sys.CWD != "" {
		sess.workDir = sys.CWD
	}
	if sys.SessionID != "" {
		sess.agentSID = sys.SessionID
	}
	if sys.Subtype == "" || sys.Subtype == "init" {
		// Duplicate confirmations refresh fields but add no entry and
		// never re-flush (the register was cleared the first time).
		return nil
	}
	entry := sess.appendSystem(sys.Subtype, "", "info")
	return []Update{{Type: "entry", SessionID: sess.id, Entry: &entry}}
}

// setStatus transitions a session's status, returning the update to
// broadcast when it changed. Caller holds the lock.
func (s *Store) setStatus(sess *Session, status Status) []Update {
	if sess.status == status {
		return nil
	}
	sess.status = status
	return []Update{{Type: "status", SessionID: sess.id, Status: status}}
}

// SendMessage sends user text to the active session. With no active
// session it is not rejected: a display name is derived from the text,
// session creation is requested, and the text is parked in the one-slot
// register until the confirmation arrives.
func (s *Store) SendMessage(text string, images []string) error {
	s.mu.Lock()
	activeID := s.activeID

	if activeID == "" {
		if s.requestCreate == nil {
			s.mu.Unlock()
			return ErrNoSession
		}
		name := DeriveName(text, s.nameMaxLen)
		// Park before requesting: the confirmation can race the
		// request's return.
		s.pending = &pendingMessage{text: text, images: images}
		s.mu.Unlock()

		id, err := s.requestCreate(name)
		if err != nil {
			s.mu.Lock()
			s.pending = nil
			s.mu.Unlock()
			return err
		}

		s.mu.Lock()
		s.names[id] = name
		if s.pending != nil {
			s.pending.sessionID = id
		}
		s.mu.Unlock()
		return nil
	}

	sess := s.sessions[activeID]
	entry := sess.appendUser(text, images)
	updates := s.setStatus(sess, StatusRunning)
	updates = append(updates, Update{Type: "entry", SessionID: activeID, Entry: &entry})
	s.mu.Unlock()

	for _, u := range updates {
		s.Broadcast(u)
	}
	return s.dispatch(activeID, text, images)
}

// RegisterCreation records the requested display name for a session the
// caller created directly (UI "new session" button rather than a first
// message). The record itself still waits for the init confirmation.
func (s *Store) RegisterCreation(sessionID, name string) {
	s.mu.Lock()
	s.names[sessionID] = name
	s.mu.Unlock()
}

// SelectSession makes a session active.
func (s *Store) SelectSession(sessionID string) error {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.activeID = sessionID
	infos := s.sessionInfos()
	s.mu.Unlock()

	s.Broadcast(Update{Type: "sessions", Sessions: infos})
	return nil
}

// DeleteSession removes a session after the deletion is confirmed (the
// agent layer has already torn the process down). Deleting the active
// session promotes the first remaining session in creation order;
// deleting any other session leaves the selection alone.
func (s *Store) DeleteSession(sessionID string) error {
	s.mu.Lock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return ErrNoSession
	}
	delete(s.sessions, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.activeID == sessionID {
		if len(s.order) > 0 {
			s.activeID = s.order[0]
		} else {
			s.activeID = ""
		}
	}
	infos := s.sessionInfos()
	s.mu.Unlock()

	s.Broadcast(Update{Type: "sessions", Sessions: infos})
	return nil
}

// Interrupt clears a session's pending slots and resets it to idle. The
// timeline is untouched: this is a local state reset, not a network
// cancellation.
func (s *Store) Interrupt(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrNoSession
	}
	sess.pendingPermission = nil
	sess.pendingQuestion = nil
	updates := s.setStatus(sess, StatusIdle)
	s.mu.Unlock()

	for _, u := range updates {
		s.Broadcast(u)
	}
	return nil
}

// AnswerPermission clears the pending permission slot and returns what
// was pending so the caller can write the response to the agent. A
// requestID is matched when given; an empty requestID answers whatever
// is pending.
func (s *Store) AnswerPermission(sessionID, requestID string) (*PendingPermission, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	pending := sess.pendingPermission
	if pending == nil || (requestID != "" && pending.RequestID != requestID) {
		s.mu.Unlock()
		return nil, errors.New("no matching pending permission")
	}
	sess.pendingPermission = nil
	updates := s.setStatus(sess, StatusRunning)
	s.mu.Unlock()

	for _, u := range updates {
		s.Broadcast(u)
	}
	return pending, nil
}

// AnswerQuestion clears the pending question slot, mirroring
// AnswerPermission.
func (s *Store) AnswerQuestion(sessionID, requestID string) (*PendingQuestion, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	pending := sess.pendingQuestion
	if pending == nil || (requestID != "" && pending.RequestID != requestID) {
		s.mu.Unlock()
		return nil, errors.New("no matching pending question")
	}
	sess.pendingQuestion = nil
	updates := s.setStatus(sess, StatusRunning)
	s.mu.Unlock()

	for _, u := range updates {
		s.Broadcast(u)
	}
	return pending, nil
}

// ActiveID returns the active session id ("" if none).
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Sessions returns summaries in creation order.
func (s *Store) Sessions() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionInfos()
}

// sessionInfos builds the summary list. Caller holds the lock.
func (s *Store) sessionInfos() []Info {
	infos := make([]Info, 0, len(s.order))
	for _, id := range s.order {
		if sess, ok := s.sessions[id]; ok {
			infos = append(infos, sess.info(id == s.activeID))
		}
	}
	return infos
}

// Timeline returns a copy of a session's ordered entries.
func (s *Store) Timeline(sessionID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNoSession
	}
	entries := make([]Entry, len(sess.entries))
	copy(entries, sess.entries)
	return entries, nil
}

// UsageFor returns a copy of a session's usage accumulator.
func (s *Store) UsageFor(sessionID string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return Usage{}, ErrNoSession
	}
	return sess.usage.snapshot(), nil
}

// PendingFor returns copies of a session's pending slots (nil if empty).
func (s *Store) PendingFor(sessionID string) (*PendingPermission, *PendingQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, ErrNoSession
	}
	var perm *PendingPermission
	var q *PendingQuestion
	if sess.pendingPermission != nil {
		cp := *sess.pendingPermission
		perm = &cp
	}
	if sess.pendingQuestion != nil {
		cp := *sess.pendingQuestion
		q = &cp
	}
	return perm, q, nil
}
