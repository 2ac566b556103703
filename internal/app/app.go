// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires Arbor's components together: config, agent
// processes, the session store, the API server, and the config watcher.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arborhq/arbor/internal/agent"
	"github.com/arborhq/arbor/internal/api"
	"github.com/arborhq/arbor/internal/config"
	"github.com/arborhq/arbor/internal/mode"
	"github.com/arborhq/arbor/internal/session"
	"github.com/arborhq/arbor/internal/watcher"
)

// App is the main application container.
type App struct {
	mu sync.Mutex

	configPath string
	version    string
	config     *config.Config

	store         *session.Store
	agents        *agent.Manager
	apiServer     *api.Server
	configWatcher *watcher.ConfigWatcher

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string // overrides config
	Port       int    // overrides config
	Version    string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		done:       make(chan struct{}),
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	app.config = cfg

	return app, nil
}

// Initialize sets up all components.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	// The store asks the agent layer to create sessions and dispatch
	// messages; the agent layer feeds every classified event back into
	// the store. Closures break the construction cycle.
	app.store = session.NewStore(session.Options{
		NameMaxLen: cfg.Sessions.NameMaxLen,
		RequestCreate: func(name string) (string, error) {
			return app.agents.StartSession(context.Background())
		},
		Dispatch: func(sessionID, text string, images []string) error {
			return app.agents.Dispatch(sessionID, text, images)
		},
	})

	app.agents = agent.NewManager(cfg.Agent,
		app.store.HandleEvent,
		func(sessionID string, m mode.Mode) {
			app.store.Broadcast(session.Update{
				Type:      "mode",
				SessionID: sessionID,
				Mode:      string(m),
			})
		},
		func(sessionID string) {
			// A dead process cannot be mid-turn or waiting on anything.
			if err := app.store.Interrupt(sessionID); err != nil {
				log.Printf("agent process for %s exited before its session was confirmed", sessionID)
			}
		},
	)

	app.apiServer = api.NewServer(cfg.Server, api.Dependencies{
		Store:  app.store,
		Agents: app.agents,
	})

	if cfg.WatchEnabled() && app.configPath != "" {
		debounce := config.ParseDuration(cfg.Watch.Debounce, 100*time.Millisecond)
		cw, err := watcher.NewConfigWatcher(app.configPath, debounce, app.reloadConfig)
		if err != nil {
			log.Printf("Warning: failed to watch config file: %v", err)
		} else {
			app.configWatcher = cw
			log.Printf("Watching config file: %s", cw.Path())
		}
	}

	return nil
}

// reloadConfig reloads the config file after a change. Only the agent
// section takes effect without a restart, and only for sessions started
// afterward; a config that fails to load or validate is logged and
// ignored.
func (app *App) reloadConfig(path string) {
	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	if err != nil {
		log.Printf("Config reload failed: %v", err)
		return
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		log.Printf("Config reload rejected: %v", err)
		return
	}

	app.mu.Lock()
	app.config = cfg
	app.mu.Unlock()

	app.agents.SetConfig(cfg.Agent)
	log.Printf("Config reloaded from %s", path)
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Arbor %s starting", app.version)
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			log.Printf("Received signal %v, shutting down...", sig)
		case <-gctx.Done():
		case <-app.done:
			log.Printf("Shutdown requested...")
		}

		return app.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown gracefully shuts down all components.
func (app *App) Shutdown(ctx context.Context) error {
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting requests first, then the agent processes behind
	// them, then the store's subscriber channels.
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	if app.configWatcher != nil {
		if err := app.configWatcher.Close(); err != nil {
			log.Printf("Error closing config watcher: %v", err)
		}
	}

	if app.agents != nil {
		app.agents.Shutdown()
	}

	if app.store != nil {
		app.store.Shutdown()
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
