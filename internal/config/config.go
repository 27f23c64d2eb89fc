// Package config loads brokkr settings from the global ~/.brokkrconfig and
// the repository's .brokkr/config, repository values taking precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/javanhut/brokkr/internal/pool"
)

// MetaDir is the name of the metadata directory at the workspace root.
const MetaDir = ".brokkr"

// Config represents brokkr configuration
type Config struct {
	User  UserConfig  `json:"user"`
	Core  CoreConfig  `json:"core"`
	Color ColorConfig `json:"color"`
}

// UserConfig holds user identity information
type UserConfig struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CoreConfig holds engine settings
type CoreConfig struct {
	Workers            int    `json:"workers"`
	SnapshotChainLimit int    `json:"snapshot_chain_limit"`
	MergeStrategy      string `json:"merge_strategy"`
	LogLevel           string `json:"log_level"`
	IgnoreFile         string `json:"ignore_file"`

	// SnapshotOnRead lets reconstruction materialize snapshots for long
	// delta chains it replays. Off keeps reads from writing to the store.
	SnapshotOnRead bool `json:"snapshot_on_read"`
}

// ColorConfig holds color settings
type ColorConfig struct {
	UI     bool `json:"ui"`
	Status bool `json:"status"`
	Diff   bool `json:"diff"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			Workers:            pool.Workers(0),
			SnapshotChainLimit: 64,
			MergeStrategy:      "conflict",
			LogLevel:           "info",
			IgnoreFile:         ".brokkrignore",
			SnapshotOnRead:     true,
		},
		Color: ColorConfig{
			UI:     true,
			Status: true,
			Diff:   true,
		},
	}
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".brokkrconfig"), nil
}

// RepoConfigPath returns the path to the repository config file
func RepoConfigPath(root string) string {
	return filepath.Join(root, MetaDir, "config")
}

// Load reads the global config and then the repository config at root.
// Each file only overrides the fields it sets. Missing files are skipped.
func Load(root string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath, err := GlobalConfigPath(); err == nil {
		if err := overlay(cfg, globalPath); err != nil {
			return nil, err
		}
	}
	if err := overlay(cfg, RepoConfigPath(root)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Keys lists every key Get and Set accept.
var Keys = []string{
	"user.name",
	"user.email",
	"core.workers",
	"core.snapshot_chain_limit",
	"core.merge_strategy",
	"core.log_level",
	"core.ignore_file",
	"core.snapshot_on_read",
	"color.ui",
	"color.status",
	"color.diff",
}

// Get retrieves a configuration value by key (e.g., "user.name")
func (c *Config) Get(key string) (string, error) {
	section, field, err := splitKey(key)
	if err != nil {
		return "", err
	}

	switch section + "." + field {
	case "user.name":
		return c.User.Name, nil
	case "user.email":
		return c.User.Email, nil
	case "core.workers":
		return strconv.Itoa(c.Core.Workers), nil
	case "core.snapshot_chain_limit":
		return strconv.Itoa(c.Core.SnapshotChainLimit), nil
	case "core.merge_strategy":
		return c.Core.MergeStrategy, nil
	case "core.log_level":
		return c.Core.LogLevel, nil
	case "core.ignore_file":
		return c.Core.IgnoreFile, nil
	case "core.snapshot_on_read":
		return strconv.FormatBool(c.Core.SnapshotOnRead), nil
	case "color.ui":
		return strconv.FormatBool(c.Color.UI), nil
	case "color.status":
		return strconv.FormatBool(c.Color.Status), nil
	case "color.diff":
		return strconv.FormatBool(c.Color.Diff), nil
	}
	return "", fmt.Errorf("unknown config key: %s", key)
}

// Set assigns a configuration value by key.
func (c *Config) Set(key, value string) error {
	section, field, err := splitKey(key)
	if err != nil {
		return err
	}

	atoi := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: want a non-negative integer, got %q", key, value)
		}
		*dst = n
		return nil
	}

	switch section + "." + field {
	case "user.name":
		c.User.Name = value
	case "user.email":
		c.User.Email = value
	case "core.workers":
		return atoi(&c.Core.Workers)
	case "core.snapshot_chain_limit":
		return atoi(&c.Core.SnapshotChainLimit)
	case "core.merge_strategy":
		switch value {
		case "conflict", "ours", "theirs":
			c.Core.MergeStrategy = value
		default:
			return fmt.Errorf("unknown merge strategy %q (want conflict, ours or theirs)", value)
		}
	case "core.log_level":
		c.Core.LogLevel = value
	case "core.ignore_file":
		c.Core.IgnoreFile = value
	case "core.snapshot_on_read":
		c.Core.SnapshotOnRead = value == "true"
	case "color.ui":
		c.Color.UI = value == "true"
	case "color.status":
		c.Color.Status = value == "true"
	case "color.diff":
		c.Color.Diff = value == "true"
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// Author returns the formatted author string "Name <email>"
func (c *Config) Author() (string, error) {
	if c.User.Name == "" || c.User.Email == "" {
		return "", fmt.Errorf("user.name and user.email not configured. Run: brokkr config user.name \"Your Name\" && brokkr config user.email \"you@example.com\"")
	}
	return fmt.Sprintf("%s <%s>", c.User.Name, c.User.Email), nil
}

// SetInFile sets one key in the config file at path and leaves every other
// key in that file untouched, so a repository file only overrides what was
// set in it.
func SetInFile(path, key, value string) error {
	parsed := DefaultConfig()
	if err := parsed.Set(key, value); err != nil {
		return err
	}
	section, field, _ := splitKey(key)

	// Round trip through JSON so the value is stored with its field's type.
	raw, err := json.Marshal(parsed)
	if err != nil {
		return err
	}
	var typed map[string]map[string]any
	if err := json.Unmarshal(raw, &typed); err != nil {
		return err
	}

	doc := make(map[string]map[string]any)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if doc[section] == nil {
		doc[section] = make(map[string]any)
	}
	doc[section][field] = typed[section][field]

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, out, 0644)
}

func splitKey(key string) (string, string, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid config key: %s (expected format: section.key)", key)
	}
	return parts[0], parts[1], nil
}
