// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/arborhq/arbor/internal/app"
	"github.com/arborhq/arbor/internal/config"
)

var (
	version = "0.3"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		host        string
		port        int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("arbor %s\n", version)
		os.Exit(0)
	}

	// Find config file if not specified
	if configPath == "" {
		loader := config.NewLoader()
		found, err := loader.FindConfig()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		configPath = found
	}

	log.Printf("Using config: %s", configPath)

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "arbor init" command
func runInit() error {
	configFile := "arbor.hjson"

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	configContent := `{
  // =============================================================================
  // Arbor Configuration
  // =============================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).

  version: "1"

  project: {
    // Display name for this project (shown in UI)
    name: "my-project"
  }

  server: {
    // Host to bind to (use "0.0.0.0" to allow remote access)
    host: "127.0.0.1"

    // Port for the web UI and API
    port: 7433

    // For HTTPS, uncomment and set paths to your certificates:
    // tls_cert: "~/.arbor/cert.pem"
    // tls_key: "~/.arbor/key.pem"

    // Or serve over your tailnet with certificates from the local
    // Tailscale daemon:
    // tls_tailscale: true
    // tls_hostname: "my-machine.tailnet.ts.net"
  }

  agent: {
    // Agent CLI binary
    command: "claude"

    // Extra arguments appended to the built-in stream flags
    // args: []

    // Working directory for agent processes (default: current directory)
    // work_dir: "~/src/my-project"

    // Extra environment variables for agent processes
    // env: {
    //   HTTPS_PROXY: "http://localhost:3128"
    // }

    // Model override
    // model: "sonnet"

    // Initial permission mode: ask, autoEdit, or plan
    permission_mode: "ask"
  }

  sessions: {
    // Length bound for session names derived from the first message
    name_max_len: 48
  }

  // Config file watching: changes to the agent section apply to
  // sessions started afterward, without a restart.
  watch: {
    enabled: true
    debounce: "100ms"
  }

  logging: {
    level: "info"
    format: "text"
  }
}
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit arbor.hjson as needed")
	fmt.Println("  2. Run: ./arbor")
	fmt.Println("  3. Open: http://localhost:7433")

	return nil
}
