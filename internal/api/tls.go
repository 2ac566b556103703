// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/tailscale/tscert"

	"github.com/arborhq/arbor/internal/config"
)

// BuildTLSConfig returns the TLS configuration for the server, or nil
// when TLS is not configured. Two sources are supported: a cert/key
// file pair, or the local Tailscale daemon (for serving over a tailnet
// without managing certificates).
func BuildTLSConfig(cfg config.ServerConfig) (*tls.Config, error) {
	if cfg.TLSTailscale {
		if cfg.TLSCert != "" || cfg.TLSKey != "" {
			return nil, fmt.Errorf("tls_tailscale cannot be combined with tls_cert/tls_key")
		}
		return &tls.Config{
			GetCertificate: pinnedHostname(tscert.GetCertificate, cfg.TLSHostname),
		}, nil
	}

	if cfg.TLSCert == "" && cfg.TLSKey == "" {
		return nil, nil
	}
	if cfg.TLSCert == "" || cfg.TLSKey == "" {
		return nil, fmt.Errorf("both tls_cert and tls_key must be specified (got cert=%q, key=%q)", cfg.TLSCert, cfg.TLSKey)
	}

	certPath := expandPath(cfg.TLSCert)
	keyPath := expandPath(cfg.TLSKey)
	if !fileExists(certPath) {
		return nil, fmt.Errorf("tls_cert file not found: %s", certPath)
	}
	if !fileExists(keyPath) {
		return nil, fmt.Errorf("tls_key file not found: %s", keyPath)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS cert/key: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
	}, nil
}

// pinnedHostname wraps a certificate getter so every request asks for
// the configured tailnet hostname. Clients dialing by IP send no SNI,
// and the Tailscale daemon refuses certificate requests without a name,
// so the handshake must not depend on what the client sent.
func pinnedHostname(getCert func(*tls.ClientHelloInfo) (*tls.Certificate, error), hostname string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		pinned := *hello
		pinned.ServerName = hostname
		return getCert(&pinned)
	}
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
