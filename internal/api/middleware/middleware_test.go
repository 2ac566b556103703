// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(mw func(http.Handler) http.Handler, h http.HandlerFunc, method string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/sessions", nil)
	rec := httptest.NewRecorder()
	mw(h).ServeHTTP(rec, req)
	return rec
}

func TestLoggingPassesResponseThrough(t *testing.T) {
	rec := serve(Logging, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("queued"))
	}, "POST")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", rec.Body.String())
}

func TestLoggedWriterCapturesStatusAndSize(t *testing.T) {
	rec := httptest.NewRecorder()
	lw := &loggedWriter{ResponseWriter: rec}

	lw.WriteHeader(http.StatusNotFound)
	n, err := lw.Write([]byte("missing"))
	require.NoError(t, err)

	assert.Equal(t, 7, n)
	assert.Equal(t, http.StatusNotFound, lw.status)
	assert.Equal(t, 7, lw.bytes)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoggedWriterImplicitOK(t *testing.T) {
	rec := httptest.NewRecorder()
	lw := &loggedWriter{ResponseWriter: rec}

	// A handler that writes without calling WriteHeader gets 200.
	lw.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, lw.status)
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	rec := serve(Recovery, func(w http.ResponseWriter, r *http.Request) {
		panic("session store corrupted")
	}, "GET")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
}

func TestRecoveryLeavesNormalResponsesAlone(t *testing.T) {
	rec := serve(Recovery, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fine"))
	}, "GET")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fine", rec.Body.String())
}

func TestCORSHeaders(t *testing.T) {
	rec := serve(CORS, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, "GET")

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	methods := rec.Header().Get("Access-Control-Allow-Methods")
	assert.Contains(t, methods, "GET")
	assert.Contains(t, methods, "POST")
	assert.Contains(t, methods, "DELETE")
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec := serve(CORS, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for OPTIONS")
	}, "OPTIONS")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
