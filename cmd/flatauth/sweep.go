// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one index reconciliation pass",
		Long: `Run one reconciliation pass over the record store: re-derives the
username, email, and reset-token indexes from the user records, clears
expired reset tokens, and prunes dead session records.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}

			report, err := a.sweeper.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode report: %w", err)
			}
			cmd.Println(string(out))
			return nil
		},
	}

	addStoreFlags(cmd)
	return cmd
}
