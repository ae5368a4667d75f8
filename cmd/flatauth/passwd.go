// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPasswdCmd creates the passwd subcommand.
func NewPasswdCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Set a new password for an account",
		Long: `Set a new password for an existing account. The password is taken
from --password, or read from stdin when the flag is empty. The account's
active session, if any, is dropped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}

			if password == "" {
				password, err = readPassword(cmd)
				if err != nil {
					return err
				}
			}

			user, err := a.users.GetByUsername(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("unknown user %q: %w", args[0], err)
			}

			if err := a.service.ModifyPassword(cmd.Context(), user.ID, password); err != nil {
				return fmt.Errorf("password change failed: %w", err)
			}

			// An operator-forced password change invalidates the live session.
			if user.HasSession() {
				if err := a.service.Logout(cmd.Context(), user.SessionID); err != nil {
					return fmt.Errorf("failed to drop session: %w", err)
				}
			}

			cmd.Printf("password updated for %s\n", user.Username)
			return nil
		},
	}

	addStoreFlags(cmd)
	cmd.Flags().StringVar(&password, "password", "", "password (read from stdin if empty)")

	return cmd
}
