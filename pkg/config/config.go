// Package config provides configuration loading and management for the
// supervisor. Project settings live in .overseer/config.json; the agent
// server API token lives in an encrypted secrets file or the environment.
// A single global Config instance is kept in memory behind a mutex and is
// always accessed by value.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"overseer/pkg/logx"
)

// Project config constants.
const (
	ProjectConfigDir      = ".overseer"
	ProjectConfigFilename = "config.json"
	SchemaVersion         = "1.0"
)

// Config holds the per-project supervisor settings. State (execution
// history, action outcomes) belongs in the database, never in here.
type Config struct {
	SchemaVersion string `json:"schema_version"`

	// ServerURL is the base URL of the agent server, e.g. http://localhost:8700.
	ServerURL string `json:"server_url"`

	// JournalDir is where decoded frames are journaled. Relative paths are
	// resolved against the project directory.
	JournalDir string `json:"journal_dir"`

	// DatabasePath is the local SQLite mirror. Relative paths are resolved
	// against the project directory.
	DatabasePath string `json:"database_path"`

	// PrometheusURL is the metrics server used for execution summaries.
	// Empty disables the query service.
	PrometheusURL string `json:"prometheus_url,omitempty"`

	// RequestTimeoutSeconds bounds synchronous control calls. Streams are
	// not bounded; a hung stream is indistinguishable from a slow agent.
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
}

//nolint:gochecknoglobals // Intentional singleton pattern for config management.
var (
	config     *Config
	projectDir string // Immutable after LoadConfig.
	logger     *logx.Logger
	mu         sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// defaultConfig returns the settings a fresh project starts with.
func defaultConfig() *Config {
	return &Config{
		SchemaVersion:         SchemaVersion,
		ServerURL:             "http://localhost:8700",
		JournalDir:            filepath.Join(ProjectConfigDir, "journal"),
		DatabasePath:          filepath.Join(ProjectConfigDir, "overseer.db"),
		RequestTimeoutSeconds: 30,
	}
}

// LoadConfig loads the project config from dir, creating a default file if
// none exists. Must be called once at startup before GetConfig.
func LoadConfig(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	path := filepath.Join(dir, ProjectConfigDir, ProjectConfigFilename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := defaultConfig()
		if err := writeConfig(dir, cfg); err != nil {
			return err
		}
		config = cfg
		projectDir = dir
		getLogger().Info("created default config at %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(substituteEnvVars(string(data))), &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	config = &cfg
	projectDir = dir
	return nil
}

// GetConfig returns the loaded config by value so callers cannot mutate the
// shared instance.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()

	if config == nil {
		return Config{}, fmt.Errorf("config not loaded: call LoadConfig first")
	}
	return *config, nil
}

// ProjectDir returns the directory LoadConfig was called with.
func ProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// ResolvePath resolves a config-relative path against the project directory.
func ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	mu.RLock()
	defer mu.RUnlock()
	return filepath.Join(projectDir, path)
}

// UpdateServerURL atomically updates and persists the server URL.
func UpdateServerURL(serverURL string) error {
	mu.Lock()
	defer mu.Unlock()

	if config == nil {
		return fmt.Errorf("config not loaded: call LoadConfig first")
	}
	if serverURL == "" {
		return fmt.Errorf("server URL must not be empty")
	}

	updated := *config
	updated.ServerURL = serverURL
	if err := writeConfig(projectDir, &updated); err != nil {
		return err
	}
	config = &updated
	return nil
}

func validate(cfg *Config) error {
	if cfg.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = 30
	}
	if cfg.JournalDir == "" {
		cfg.JournalDir = filepath.Join(ProjectConfigDir, "journal")
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(ProjectConfigDir, "overseer.db")
	}
	return nil
}

func writeConfig(dir string, cfg *Config) error {
	configDir := filepath.Join(dir, ProjectConfigDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	path := filepath.Join(configDir, ProjectConfigFilename)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// envVarPattern matches ${VAR} references in config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnvVars replaces ${VAR} references with environment values.
// Unset variables substitute to the empty string.
func substituteEnvVars(text string) string {
	return envVarPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// Reset clears the singleton for tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	config = nil
	projectDir = ""
}
