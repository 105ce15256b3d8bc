// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/chunksync/lib/checksum"
	"github.com/bureau-foundation/chunksync/lib/retry"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "CHUNKSYNC_CONFIG"

// Config is the master configuration for chunksync.
type Config struct {
	// Build locates the build-description endpoint.
	Build BuildConfig `yaml:"build"`

	// Assets selects what a sync downloads by default.
	Assets AssetsConfig `yaml:"assets"`

	// Install configures the local install tree.
	Install InstallConfig `yaml:"install"`

	// Channel holds the identifiers written to the launcher config
	// file.
	Channel ChannelConfig `yaml:"channel"`

	// Transfer tunes downloading.
	Transfer TransferConfig `yaml:"transfer"`
}

// BuildConfig locates the build descriptor.
type BuildConfig struct {
	// URL is the build-description endpoint.
	URL string `yaml:"url"`

	// DescriptorFile is a pinned JSONC copy of the descriptor. When
	// set, URL is not contacted.
	DescriptorFile string `yaml:"descriptor_file"`

	// GameKey is the descriptor key of the base game.
	// Default: game
	GameKey string `yaml:"game_key"`
}

// AssetsConfig selects the assets of a sync.
type AssetsConfig struct {
	// Game includes the base game.
	// Default: true
	Game bool `yaml:"game"`

	// Language is a language-pack key such as en-us, or empty.
	Language string `yaml:"language"`
}

// InstallConfig configures the install tree.
type InstallConfig struct {
	// Path is the install directory.
	Path string `yaml:"path"`

	// Staging is the staging directory.
	// Default: <path>/staging
	Staging string `yaml:"staging"`

	// VersionFile is the version marker, relative to Path.
	// Default: .version
	VersionFile string `yaml:"version_file"`

	// ConfigFile is the launcher config file, relative to Path.
	// Default: config.ini
	ConfigFile string `yaml:"config_file"`
}

// ChannelConfig holds the distribution identifiers.
type ChannelConfig struct {
	Channel    int    `yaml:"channel"`
	SubChannel int    `yaml:"sub_channel"`
	CPS        string `yaml:"cps"`
}

// TransferConfig tunes downloading.
type TransferConfig struct {
	// Workers bounds parallel file downloads.
	// Default: 8
	Workers int `yaml:"workers"`

	// Timeout bounds one HTTP request. Zero means no timeout.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent"`

	// Checksum names the digest algorithm of manifests and files.
	// Default: md5
	Checksum string `yaml:"checksum"`

	// VerifyChunks checks each chunk against its declared checksum.
	// Default: false
	VerifyChunks bool `yaml:"verify_chunks"`

	// ProgressInterval is the minimum spacing of progress events.
	// Default: 100ms
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// Retry holds one policy per remote read.
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig holds the retry policy of each kind of request.
type RetryConfig struct {
	// Default: 5 attempts, 2s apart.
	Build retry.Policy `yaml:"build"`

	// Default: 5 attempts, 2s apart.
	Manifest retry.Policy `yaml:"manifest"`

	// Default: 5 attempts, 1s apart.
	Chunk retry.Policy `yaml:"chunk"`
}

// Default returns the default configuration. Install.Path and one of
// Build.URL or Build.DescriptorFile have no default.
func Default() *Config {
	return &Config{
		Build: BuildConfig{
			GameKey: "game",
		},
		Assets: AssetsConfig{
			Game: true,
		},
		Install: InstallConfig{
			VersionFile: ".version",
			ConfigFile:  "config.ini",
		},
		Channel: ChannelConfig{
			Channel:    1,
			SubChannel: 0,
			CPS:        "mihoyo",
		},
		Transfer: TransferConfig{
			Workers:          8,
			Timeout:          60 * time.Second,
			Checksum:         checksum.DefaultAlgorithm,
			ProgressInterval: 100 * time.Millisecond,
			Retry: RetryConfig{
				Build:    retry.Policy{Attempts: 5, Delay: 2 * time.Second},
				Manifest: retry.Policy{Attempts: 5, Delay: 2 * time.Second},
				Chunk:    retry.Policy{Attempts: 5, Delay: time.Second},
			},
		},
	}
}

// Load loads configuration from the CHUNKSYNC_CONFIG environment
// variable. There is no fallback when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your chunksync.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path over the
// defaults, then expands variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.ExpandVariables()
	return cfg, nil
}

// ExpandVariables expands ${VAR} and ${VAR:-default} patterns in path
// and URL fields. Callers that set fields after loading (from flags)
// call it again.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Install.Path = expandVars(c.Install.Path, vars)
	vars["CHUNKSYNC_INSTALL"] = c.Install.Path // Update for dependent paths.

	c.Install.Staging = expandVars(c.Install.Staging, vars)
	c.Build.URL = expandVars(c.Build.URL, vars)
	c.Build.DescriptorFile = expandVars(c.Build.DescriptorFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors and reports all of
// them.
func (c *Config) Validate() error {
	var errs []error

	if c.Build.URL == "" && c.Build.DescriptorFile == "" {
		errs = append(errs, fmt.Errorf("build.url or build.descriptor_file is required"))
	}
	if c.Build.GameKey == "" {
		errs = append(errs, fmt.Errorf("build.game_key must not be empty"))
	}
	if !c.Assets.Game && c.Assets.Language == "" {
		errs = append(errs, fmt.Errorf("assets: nothing selected (set assets.game or assets.language)"))
	}
	if c.Install.Path == "" {
		errs = append(errs, fmt.Errorf("install.path is required"))
	}
	if c.Install.VersionFile == "" {
		errs = append(errs, fmt.Errorf("install.version_file must not be empty"))
	}
	if c.Install.ConfigFile == "" {
		errs = append(errs, fmt.Errorf("install.config_file must not be empty"))
	}
	if c.Transfer.Workers < 1 {
		errs = append(errs, fmt.Errorf("transfer.workers %d is invalid (minimum 1)", c.Transfer.Workers))
	}
	if c.Transfer.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transfer.timeout %s is negative", c.Transfer.Timeout))
	}
	if c.Transfer.ProgressInterval < 0 {
		errs = append(errs, fmt.Errorf("transfer.progress_interval %s is negative", c.Transfer.ProgressInterval))
	}
	if _, err := checksum.Lookup(c.Transfer.Checksum); err != nil {
		errs = append(errs, fmt.Errorf("transfer.checksum: %w", err))
	}
	if err := c.Transfer.Retry.Build.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("transfer.retry.build: %w", err))
	}
	if err := c.Transfer.Retry.Manifest.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("transfer.retry.manifest: %w", err))
	}
	if err := c.Transfer.Retry.Chunk.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("transfer.retry.chunk: %w", err))
	}

	return errors.Join(errs...)
}
