// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborhq/arbor/internal/config"
)

func TestBuildTLSConfigDisabled(t *testing.T) {
	cfg, err := BuildTLSConfig(config.ServerConfig{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestBuildTLSConfigHalfPairRejected(t *testing.T) {
	_, err := BuildTLSConfig(config.ServerConfig{TLSCert: "/tmp/cert.pem"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both tls_cert and tls_key")
}

func TestBuildTLSConfigMissingFiles(t *testing.T) {
	_, err := BuildTLSConfig(config.ServerConfig{
		TLSCert: "/nonexistent/cert.pem",
		TLSKey:  "/nonexistent/key.pem",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestBuildTLSConfigTailscale(t *testing.T) {
	cfg, err := BuildTLSConfig(config.ServerConfig{
		TLSTailscale: true,
		TLSHostname:  "arbor.tailnet.ts.net",
	})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.NotNil(t, cfg.GetCertificate)
}

func TestBuildTLSConfigTailscaleConflictsWithPair(t *testing.T) {
	_, err := BuildTLSConfig(config.ServerConfig{
		TLSTailscale: true,
		TLSCert:      "/tmp/cert.pem",
		TLSKey:       "/tmp/key.pem",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tls_tailscale")
}

func TestPinnedHostnameOverridesSNI(t *testing.T) {
	var asked string
	getCert := pinnedHostname(func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		asked = hello.ServerName
		return &tls.Certificate{}, nil
	}, "arbor.tailnet.ts.net")

	// A client dialing by IP sends no SNI at all.
	_, err := getCert(&tls.ClientHelloInfo{ServerName: ""})
	require.NoError(t, err)
	assert.Equal(t, "arbor.tailnet.ts.net", asked)

	// A mismatched SNI is overridden, not forwarded.
	_, err = getCert(&tls.ClientHelloInfo{ServerName: "100.1.2.3"})
	require.NoError(t, err)
	assert.Equal(t, "arbor.tailnet.ts.net", asked)
}
