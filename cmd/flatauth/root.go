// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/flatauth/flatauth/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the FlatAuth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flatauth",
		Short: "FlatAuth - file-backed authentication service",
		Long: `FlatAuth manages user accounts, sessions, and password resets
over a flat-file JSON record store.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewUserAddCmd())
	cmd.AddCommand(NewPasswdCmd())
	cmd.AddCommand(NewSweepCmd())

	return cmd
}

// addStoreFlags registers the flags shared by every command that opens the
// record store. Flag defaults mirror the config defaults; values from the
// config file win over unchanged flags.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", config.DefaultDataDir, "record store root directory")
	cmd.Flags().String("log-format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().Uint64("index-retry-attempts", config.DefaultIndexRetryAttempts, "retries for contended index writes")
	cmd.Flags().Duration("index-retry-delay", config.DefaultIndexRetryDelay, "delay between index write attempts")
}
