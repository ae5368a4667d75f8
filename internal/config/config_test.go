// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flatauth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, DefaultSessionTTL, cfg.SessionTTL)
	assert.Equal(t, uint64(DefaultIndexRetryAttempts), cfg.IndexRetryAttempts)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
data_dir: /var/lib/flatauth
session_ttl: 30m
reset_ttl: 2m
log_format: text
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/flatauth", cfg.DataDir)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 2*time.Minute, cfg.ResetTTL)
	assert.Equal(t, "text", cfg.LogFormat)

	// Unset keys keep their defaults.
	assert.Equal(t, DefaultMetricsAddr, cfg.MetricsAddr)
	assert.Equal(t, DefaultIndexRetryDelay, cfg.IndexRetryDelay)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeConfigFile(t, `
data_dir: /from/file
session_ttl: 30m
`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("data-dir", DefaultDataDir, "")
	flags.Duration("session-ttl", DefaultSessionTTL, "")
	require.NoError(t, flags.Set("data-dir", "/from/flag"))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "/from/flag", cfg.DataDir, "changed flag wins over the file")
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL, "file wins over an unchanged flag")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfigFile(t, "data_dir: [unclosed")

	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	path := writeConfigFile(t, "log_format: xml")

	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "empty data dir",
			mutate:  func(c *Config) { c.DataDir = "" },
			wantErr: "data_dir",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.LogFormat = "yaml" },
			wantErr: "log_format",
		},
		{
			name:    "zero session ttl",
			mutate:  func(c *Config) { c.SessionTTL = 0 },
			wantErr: "session_ttl",
		},
		{
			name:    "negative reset ttl",
			mutate:  func(c *Config) { c.ResetTTL = -time.Minute },
			wantErr: "reset_ttl",
		},
		{
			name:    "zero retry delay",
			mutate:  func(c *Config) { c.IndexRetryDelay = 0 },
			wantErr: "index_retry_delay",
		},
		{
			name:    "negative sweep interval",
			mutate:  func(c *Config) { c.SweepInterval = -time.Minute },
			wantErr: "sweep_interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
