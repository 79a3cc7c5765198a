package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ierrors "github.com/Aman-CERP/subindex/internal/errors"
	"github.com/Aman-CERP/subindex/internal/manager"
)

const (
	// ProjectConfigName is the project configuration file name.
	ProjectConfigName = ".subindex.yaml"

	// projectConfigAltName is accepted when ProjectConfigName is absent.
	projectConfigAltName = ".subindex.yml"

	// DefaultStoreRoot is the store directory relative to the project.
	DefaultStoreRoot = ".subindex"

	// DefaultPartition is the single partition of a fresh configuration.
	DefaultPartition = "default"
)

// Config represents the complete subindex configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Transaction TransactionConfig `yaml:"transaction" json:"transaction"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// StoreConfig locates the partitions.
type StoreConfig struct {
	// Root is the directory holding one subdirectory per partition.
	// Relative paths are resolved against the project directory.
	Root string `yaml:"root" json:"root"`

	// Partitions is the fixed set of partition names.
	Partitions []string `yaml:"partitions" json:"partitions"`
}

// CacheConfig configures handle caching and the scheduled tasks.
type CacheConfig struct {
	// InvalidationInterval throttles the currency check of cached handles.
	// "never" serves a cached handle until it is explicitly invalidated.
	InvalidationInterval Duration `yaml:"invalidation_interval" json:"invalidation_interval"`

	// PollInterval is the period of the scheduled tasks run by `watch`.
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`

	// ResultCacheSize is the number of per-partition search results kept.
	ResultCacheSize int `yaml:"result_cache_size" json:"result_cache_size"`
}

// TransactionConfig configures locking and commits.
type TransactionConfig struct {
	LockTimeout                Duration `yaml:"lock_timeout" json:"lock_timeout"`
	EnableConcurrentCommit     bool     `yaml:"enable_concurrent_commit" json:"enable_concurrent_commit"`
	ConcurrentCommitThreshold  int      `yaml:"concurrent_commit_threshold" json:"concurrent_commit_threshold"`
	MaxConcurrentCommitThreads int      `yaml:"max_concurrent_commit_threads" json:"max_concurrent_commit_threads"`

	// WaitForCacheInvalidation opts into the propagation wait of a replace.
	WaitForCacheInvalidation bool `yaml:"wait_for_cache_invalidation" json:"wait_for_cache_invalidation"`

	// CacheInvalidationWait is how long a replace waits for other
	// processes to drop their caches before swapping contents.
	CacheInvalidationWait Duration `yaml:"cache_invalidation_wait" json:"cache_invalidation_wait"`
}

// LoggingConfig configures the log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	settings := manager.DefaultSettings()
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Root:       DefaultStoreRoot,
			Partitions: []string{DefaultPartition},
		},
		Cache: CacheConfig{
			InvalidationInterval: Duration(settings.InvalidationInterval),
			PollInterval:         Duration(10 * time.Second),
			ResultCacheSize:      256,
		},
		Transaction: TransactionConfig{
			LockTimeout:                Duration(settings.LockTimeout),
			EnableConcurrentCommit:     settings.EnableConcurrentCommit,
			ConcurrentCommitThreshold:  settings.ConcurrentCommitThreshold,
			MaxConcurrentCommitThreads: settings.MaxConcurrentCommitThreads,
			WaitForCacheInvalidation:   settings.WaitForCacheInvalidation,
			CacheInvalidationWait:      Duration(settings.CacheInvalidationWait),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/subindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/subindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "subindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "subindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "subindex", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/subindex/config.yaml)
//  3. Project config (.subindex.yaml in the project directory)
//  4. Environment variables (SUBINDEX_*)
//
// Each file only overrides the keys it sets.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, ierrors.ConfigError("failed to load user config", err)
		}
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, ierrors.ConfigError("failed to load project config", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, ierrors.ConfigError("invalid environment override", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, ierrors.ConfigError("invalid configuration", err)
	}
	return cfg, nil
}

// ProjectConfigPath returns the project configuration file in dir, or ""
// when there is none. .yaml takes precedence over .yml.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{ProjectConfigName, projectConfigAltName} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

func (c *Config) loadFromFile(dir string) error {
	path := ProjectConfigPath(dir)
	if path == "" {
		return nil
	}
	return c.loadYAML(path)
}

// loadYAML decodes path on top of the current values.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies SUBINDEX_* environment variable overrides.
// Empty variables are ignored; malformed values are an error.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("SUBINDEX_STORE_ROOT"); v != "" {
		c.Store.Root = v
	}
	if v := os.Getenv("SUBINDEX_PARTITIONS"); v != "" {
		c.Store.Partitions = splitList(v)
	}

	durations := []struct {
		env string
		dst *Duration
	}{
		{"SUBINDEX_INVALIDATION_INTERVAL", &c.Cache.InvalidationInterval},
		{"SUBINDEX_POLL_INTERVAL", &c.Cache.PollInterval},
		{"SUBINDEX_LOCK_TIMEOUT", &c.Transaction.LockTimeout},
		{"SUBINDEX_CACHE_INVALIDATION_WAIT", &c.Transaction.CacheInvalidationWait},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"SUBINDEX_COMMIT_THRESHOLD", &c.Transaction.ConcurrentCommitThreshold},
		{"SUBINDEX_COMMIT_THREADS", &c.Transaction.MaxConcurrentCommitThreads},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", i.env, err)
		}
		*i.dst = n
	}

	if v := os.Getenv("SUBINDEX_CONCURRENT_COMMIT"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("SUBINDEX_CONCURRENT_COMMIT: %w", err)
		}
		c.Transaction.EnableConcurrentCommit = b
	}
	if v := os.Getenv("SUBINDEX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version %d", c.Version)
	}

	if strings.TrimSpace(c.Store.Root) == "" {
		return fmt.Errorf("store.root must not be empty")
	}
	if len(c.Store.Partitions) == 0 {
		return fmt.Errorf("store.partitions must name at least one partition")
	}
	seen := make(map[string]bool, len(c.Store.Partitions))
	for _, p := range c.Store.Partitions {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return fmt.Errorf("store.partitions: invalid partition name %q", p)
		}
		if seen[p] {
			return fmt.Errorf("store.partitions: duplicate partition %q", p)
		}
		seen[p] = true
	}

	if c.Cache.PollInterval <= 0 {
		return fmt.Errorf("cache.poll_interval must be positive, got %s", c.Cache.PollInterval)
	}
	if c.Cache.ResultCacheSize < 0 {
		return fmt.Errorf("cache.result_cache_size must be non-negative, got %d", c.Cache.ResultCacheSize)
	}

	if c.Transaction.LockTimeout <= 0 {
		return fmt.Errorf("transaction.lock_timeout must be positive, got %s", c.Transaction.LockTimeout)
	}
	if c.Transaction.ConcurrentCommitThreshold < 0 {
		return fmt.Errorf("transaction.concurrent_commit_threshold must be non-negative, got %d",
			c.Transaction.ConcurrentCommitThreshold)
	}
	if c.Transaction.MaxConcurrentCommitThreads < 0 {
		return fmt.Errorf("transaction.max_concurrent_commit_threads must be non-negative, got %d",
			c.Transaction.MaxConcurrentCommitThreads)
	}
	if c.Transaction.CacheInvalidationWait < 0 {
		return fmt.Errorf("transaction.cache_invalidation_wait must be non-negative, got %s",
			c.Transaction.CacheInvalidationWait)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// ManagerSettings converts the configuration into manager settings.
func (c *Config) ManagerSettings() manager.Settings {
	interval := c.Cache.InvalidationInterval.D()
	if c.Cache.InvalidationInterval.IsNever() {
		interval = manager.InvalidationNever
	}
	return manager.Settings{
		InvalidationInterval:       interval,
		LockTimeout:                c.Transaction.LockTimeout.D(),
		EnableConcurrentCommit:     c.Transaction.EnableConcurrentCommit,
		ConcurrentCommitThreshold:  c.Transaction.ConcurrentCommitThreshold,
		MaxConcurrentCommitThreads: c.Transaction.MaxConcurrentCommitThreads,
		WaitForCacheInvalidation:   c.Transaction.WaitForCacheInvalidation,
		CacheInvalidationWait:      c.Transaction.CacheInvalidationWait.D(),
	}
}

// StoreRoot resolves the store root against the project directory.
func (c *Config) StoreRoot(projectDir string) string {
	if filepath.IsAbs(c.Store.Root) {
		return c.Store.Root
	}
	return filepath.Join(projectDir, c.Store.Root)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindProjectRoot finds the project root directory.
// It looks for a .subindex.yaml/.yml file or a .git directory by walking up
// the directory tree, and falls back to startDir.
func FindProjectRoot(startDir string) (string, error) {
	if startDir == "" {
		startDir = "."
	}
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !dirExists(absDir) {
		return "", fmt.Errorf("directory does not exist: %s", absDir)
	}

	for dir := absDir; ; {
		if ProjectConfigPath(dir) != "" || dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
