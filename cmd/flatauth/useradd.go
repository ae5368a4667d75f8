// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewUserAddCmd creates the useradd subcommand.
func NewUserAddCmd() *cobra.Command {
	var (
		password    string
		email       string
		displayName string
	)

	cmd := &cobra.Command{
		Use:   "useradd <username>",
		Short: "Register a new user account",
		Long: `Register a new user account in the record store. The password is
taken from --password, or read from stdin when the flag is empty.`,
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

			user, err := a.service.Register(cmd.Context(), args[0], password)
			if err != nil {
				return fmt.Errorf("registration failed: %w", err)
			}

			if email != "" {
				if err := a.service.ModifyEmail(cmd.Context(), user.ID, email); err != nil {
					return fmt.Errorf("failed to set email: %w", err)
				}
			}
			if displayName != "" {
				if err := a.service.ModifyDisplayName(cmd.Context(), user.ID, displayName); err != nil {
					return fmt.Errorf("failed to set display name: %w", err)
				}
			}

			cmd.Printf("user %s created (id %s)\n", user.Username, user.ID.String())
			return nil
		},
	}

	addStoreFlags(cmd)
	cmd.Flags().StringVar(&password, "password", "", "password (read from stdin if empty)")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")

	return cmd
}

// readPassword reads a single line from the command's stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return "", fmt.Errorf("no password provided on stdin")
	}
	return strings.TrimSpace(scanner.Text()), nil
}
