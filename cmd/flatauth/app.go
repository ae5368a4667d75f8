// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flatauth/flatauth/internal/auth"
	"github.com/flatauth/flatauth/internal/auth/filestore"
	"github.com/flatauth/flatauth/internal/config"
	"github.com/flatauth/flatauth/internal/logging"
	"github.com/flatauth/flatauth/internal/store"
	"github.com/flatauth/flatauth/internal/xdg"
)

// app wires the record store, repositories, and services for a command
// invocation.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	users    *filestore.UserRepository
	sessions *filestore.SessionRepository
	service  *auth.Service
	sweeper  *filestore.Sweeper
}

// loadApp loads configuration from the config file and the command's flags,
// sets up logging, and builds the service stack.
func loadApp(cmd *cobra.Command) (*app, error) {
	path := configFile
	if path == "" {
		// Fall back to the XDG config file when none was given.
		candidate := filepath.Join(xdg.ConfigDir(), "flatauth.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.Setup("flatauth", version, cfg.LogFormat, nil)
	slog.SetDefault(logger)

	return newApp(cfg, logger)
}

// newApp builds the service stack over the record store at cfg.DataDir.
func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	opts := filestore.Options{
		RetryAttempts: cfg.IndexRetryAttempts,
		RetryDelay:    cfg.IndexRetryDelay,
	}
	users := filestore.NewUserRepository(st, opts)
	sessions := filestore.NewSessionRepository(st)

	sessionSvc, err := auth.NewSessionServiceWithLogger(users, sessions, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session service: %w", err)
	}
	sessionSvc.SetTTL(cfg.SessionTTL)

	resetSvc, err := auth.NewResetServiceWithLogger(users, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reset service: %w", err)
	}
	resetSvc.SetTTL(cfg.ResetTTL)

	service, err := auth.NewServiceWithLogger(users, sessionSvc, resetSvc, auth.NewArgon2idHasher(), nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	sweeper, err := filestore.NewSweeper(users, sessions, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweeper: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		users:    users,
		sessions: sessions,
		service:  service,
		sweeper:  sweeper,
	}, nil
}
