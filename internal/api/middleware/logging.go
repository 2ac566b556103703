// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package middleware provides the HTTP middleware chain: access
// logging, panic recovery, and CORS.
package middleware

import (
	"bufio"
	"log"
	"net"
	"net/http"
	"time"
)

// loggedWriter records what the handler sent so the access line can
// report status and size. It forwards Hijack: the chat WebSocket
// upgrade happens through this wrapper.
type loggedWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggedWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *loggedWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *loggedWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// Logging writes one access-log line per request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lw := &loggedWriter{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(lw, r)

		status := lw.status
		if status == 0 {
			// Handler wrote nothing at all.
			status = http.StatusOK
		}
		log.Printf("api: %s %s -> %d (%d bytes, %s)",
			r.Method, r.URL.Path, status, lw.bytes, time.Since(start))
	})
}
