// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api wires Arbor's HTTP server: REST routes for session
// management and the chat WebSocket.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/internal/api/handlers"
	"github.com/arborhq/arbor/internal/api/middleware"
	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/session"
)

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Store  *session.Store
	Agents handlers.AgentControl
}

// NewRouter creates the API router.
func NewRouter(deps Dependencies) (*mux.Router, *handlers.ChatHandler) {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	sessionHandler := handlers.NewSessionHandler(deps.Store, deps.Agents)
	chatHandler := handlers.NewChatHandler(deps.Store, deps.Agents)

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	api.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	api.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{id}", sessionHandler.Delete).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/select", sessionHandler.Select).Methods("POST")
	api.HandleFunc("/sessions/{id}/interrupt", sessionHandler.Interrupt).Methods("POST")
	api.HandleFunc("/sessions/{id}/usage", sessionHandler.Usage).Methods("GET")
	api.HandleFunc("/sessions/{id}/mode", sessionHandler.GetMode).Methods("GET")
	api.HandleFunc("/sessions/{id}/mode", sessionHandler.SetMode).Methods("POST")
	api.HandleFunc("/sessions/{id}/permission", sessionHandler.AnswerPermission).Methods("POST")
	api.HandleFunc("/sessions/{id}/question", sessionHandler.AnswerQuestion).Methods("POST")
	api.HandleFunc("/message", sessionHandler.SendMessage).Methods("POST")

	// Chat WebSocket
	r.HandleFunc("/ws/chat", chatHandler.WebSocket).Methods("GET")

	return r, chatHandler
}

// Server represents the API server.
type Server struct {
	router      *mux.Router
	cfg         config.ServerConfig
	server      *http.Server
	chatHandler *handlers.ChatHandler
}

// NewServer creates a new API server.
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	router, chatHandler := NewRouter(deps)
	return &Server{
		router:      router,
		cfg:         cfg,
		chatHandler: chatHandler,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server, with TLS when configured (a cert
// and key file pair, or the local Tailscale daemon).
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)

	tlsConfig, err := BuildTLSConfig(s.cfg)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	s.server = &http.Server{
		Addr:      addr,
		Handler:   s.router,
		TLSConfig: tlsConfig,
	}

	if tlsConfig != nil {
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS("", "")
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	// Close WebSocket connections first so Shutdown doesn't wait on them.
	if s.chatHandler != nil {
		s.chatHandler.Shutdown()
	}

	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
