// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

// Package config loads runtime configuration with three layers of
// precedence: built-in defaults, a YAML config file, and command-line
// flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/flatauth/flatauth/internal/xdg"
)

// DefaultDataDir is the default record store root, under the XDG data
// directory.
var DefaultDataDir = xdg.DataDir()

// Default values.
const (
	DefaultMetricsAddr        = "127.0.0.1:9100"
	DefaultLogFormat          = "json"
	DefaultSessionTTL         = time.Hour
	DefaultResetTTL           = 5 * time.Minute
	DefaultIndexRetryAttempts = 10
	DefaultIndexRetryDelay    = 200 * time.Millisecond
	DefaultSweepInterval      = 10 * time.Minute
)

// Config holds the runtime configuration for the auth module and CLI.
type Config struct {
	// DataDir is the root directory of the record store.
	DataDir string `koanf:"data_dir"`

	// MetricsAddr is the observability listen address; empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`

	// LogFormat selects the slog handler: "json" or "text".
	LogFormat string `koanf:"log_format"`

	// SessionTTL is the session lifetime.
	SessionTTL time.Duration `koanf:"session_ttl"`

	// ResetTTL is the password-reset token window.
	ResetTTL time.Duration `koanf:"reset_ttl"`

	// IndexRetryAttempts is the number of retries after the initial
	// attempt for contended index writes.
	IndexRetryAttempts uint64 `koanf:"index_retry_attempts"`

	// IndexRetryDelay is the fixed delay between index write attempts.
	IndexRetryDelay time.Duration `koanf:"index_retry_delay"`

	// SweepInterval is how often the server reconciles indexes with the
	// user records; zero disables the periodic sweep.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:            DefaultDataDir,
		MetricsAddr:        DefaultMetricsAddr,
		LogFormat:          DefaultLogFormat,
		SessionTTL:         DefaultSessionTTL,
		ResetTTL:           DefaultResetTTL,
		IndexRetryAttempts: DefaultIndexRetryAttempts,
		IndexRetryDelay:    DefaultIndexRetryDelay,
		SweepInterval:      DefaultSweepInterval,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	if c.ResetTTL <= 0 {
		return fmt.Errorf("reset_ttl must be positive")
	}
	if c.IndexRetryDelay <= 0 {
		return fmt.Errorf("index_retry_delay must be positive")
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("sweep_interval cannot be negative")
	}
	return nil
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when empty), then any changed flags in flags (skipped when nil).
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		// Flag names use dashes; map them onto the underscore config keys.
		provider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			return strings.ReplaceAll(key, "-", "_"), value
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}
