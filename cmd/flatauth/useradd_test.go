// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	configFile = ""
	// Keep the run hermetic: never pick up a real user config file.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	if stdin != "" {
		cmd.SetIn(strings.NewReader(stdin))
	}
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func TestUserAdd_CreatesAccount(t *testing.T) {
	dataDir := t.TempDir()

	output, err := runCLI(t, "",
		"useradd", "alice",
		"--password", "correct horse battery",
		"--data-dir", dataDir,
		"--log-format", "text",
	)
	require.NoError(t, err)
	assert.Contains(t, output, "user alice created")

	// The record and the username index entry are on disk.
	entries, err := os.ReadDir(filepath.Join(dataDir, "users"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	idx, err := os.ReadFile(filepath.Join(dataDir, "usernames.json"))
	require.NoError(t, err)
	assert.Contains(t, string(idx), "alice")
}

func TestUserAdd_PasswordFromStdin(t *testing.T) {
	dataDir := t.TempDir()

	output, err := runCLI(t, "hunter2hunter2\n",
		"useradd", "bob",
		"--data-dir", dataDir,
		"--log-format", "text",
	)
	require.NoError(t, err)
	assert.Contains(t, output, "user bob created")
}

func TestUserAdd_DuplicateUsernameFails(t *testing.T) {
	dataDir := t.TempDir()

	_, err := runCLI(t, "",
		"useradd", "carol", "--password", "first password", "--data-dir", dataDir, "--log-format", "text")
	require.NoError(t, err)

	_, err = runCLI(t, "",
		"useradd", "carol", "--password", "second password", "--data-dir", dataDir, "--log-format", "text")
	require.Error(t, err)
}

func TestUserAdd_WithEmail(t *testing.T) {
	dataDir := t.TempDir()

	_, err := runCLI(t, "",
		"useradd", "dave",
		"--password", "a perfectly fine password",
		"--email", "dave@example.com",
		"--data-dir", dataDir,
		"--log-format", "text",
	)
	require.NoError(t, err)

	idx, err := os.ReadFile(filepath.Join(dataDir, "emails.json"))
	require.NoError(t, err)
	assert.Contains(t, string(idx), "dave@example.com")
}

func TestUserAdd_RequiresUsername(t *testing.T) {
	_, err := runCLI(t, "", "useradd")
	require.Error(t, err)
}
