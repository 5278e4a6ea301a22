// Package config loads the YAML configuration of the chatmesh terminal
// front-end: logging, the storage backend, engine limits, settings defaults
// and the model services, agents and groups seeded into a fresh state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/chatmesh/blobstore"
	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/engine"
	"github.com/hupe1980/chatmesh/logging"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the top-level configuration document.
type Config struct {
	Logging       LoggingConfig        `yaml:"logging"`
	Storage       StorageConfig        `yaml:"storage"`
	Engine        EngineConfig         `yaml:"engine"`
	Settings      SettingsConfig       `yaml:"settings"`
	Orchestrator  OrchestratorConfig   `yaml:"orchestrator"`
	ModelServices []ModelServiceConfig `yaml:"model_services"`
	Agents        []AgentConfig        `yaml:"agents"`
	Groups        []GroupConfig        `yaml:"groups"`
}

// LoggingConfig selects level and format of the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
	// File redirects log output; empty logs to stderr.
	File string `yaml:"file"`
}

// StorageConfig selects where the state snapshot is kept.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	// Path is a directory for the file backend and a database file for sqlite.
	Path string `yaml:"path"`
	Key  string `yaml:"key"`
}

// EngineConfig bounds a single orchestration run.
type EngineConfig struct {
	MaxTurns  int   `yaml:"max_turns"`
	MaxTokens int64 `yaml:"max_tokens"`
}

// SettingsConfig mirrors core.Settings.
type SettingsConfig struct {
	UserName           string `yaml:"user_name"`
	DefaultEndpointURL string `yaml:"default_endpoint_url"`
	DefaultAPIKey      string `yaml:"default_api_key"`
	DefaultModelID     string `yaml:"default_model_id"`
}

// OrchestratorConfig mirrors core.Orchestrator.
type OrchestratorConfig struct {
	SystemPrompt      string `yaml:"system_prompt"`
	ModelServiceID    string `yaml:"model_service"`
	ContextWindowSize int    `yaml:"context_window_size"`
}

// ModelServiceConfig seeds one core.ModelService.
type ModelServiceConfig struct {
	ID                string   `yaml:"id"`
	Name              string   `yaml:"name"`
	Provider          string   `yaml:"provider"`
	EndpointURL       string   `yaml:"endpoint_url"`
	APIKey            string   `yaml:"api_key"`
	ModelID           string   `yaml:"model"`
	Temperature       *float64 `yaml:"temperature"`
	TopP              *float64 `yaml:"top_p"`
	ContextWindowSize int      `yaml:"context_window_size"`
}

// AgentConfig seeds one core.Agent.
type AgentConfig struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name"`
	Description       string `yaml:"description"`
	SystemPrompt      string `yaml:"system_prompt"`
	ModelServiceID    string `yaml:"model_service"`
	ContextWindowSize *int   `yaml:"context_window_size"`
}

// GroupConfig seeds one core.Group and, when Topic is set, its first topic.
type GroupConfig struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
	Topic   string   `yaml:"topic"`
}

// Default returns a configuration with an in-memory store, info level text
// logging and the engine's default turn cap.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{Backend: BackendMemory, Key: blobstore.DefaultKey},
		Engine:  EngineConfig{MaxTurns: engine.DefaultMaxTurns},
		Settings: SettingsConfig{
			UserName: core.DefaultUserName,
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a YAML document on top of Default and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all configuration fields are present and consistent.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, file, sqlite", c.Storage.Backend)
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Engine.MaxTurns < 0 {
		return errors.New("engine.max_turns must be >= 0")
	}

	if c.Engine.MaxTokens < 0 {
		return errors.New("engine.max_tokens must be >= 0")
	}

	if c.Settings.UserName == "" {
		return errors.New("settings.user_name must not be empty")
	}

	services := make(map[string]bool, len(c.ModelServices))
	for i, s := range c.ModelServices {
		if s.ID == "" {
			return fmt.Errorf("model_services[%d].id is required", i)
		}
		if services[s.ID] {
			return fmt.Errorf("model_services[%d].id %q is duplicated", i, s.ID)
		}
		services[s.ID] = true
	}

	if id := c.Orchestrator.ModelServiceID; id != "" && !services[id] {
		return fmt.Errorf("orchestrator.model_service %q is not defined", id)
	}

	agents := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d].id is required", i)
		}
		if agents[a.ID] {
			return fmt.Errorf("agents[%d].id %q is duplicated", i, a.ID)
		}
		if a.ModelServiceID != "" && !services[a.ModelServiceID] {
			return fmt.Errorf("agents[%d].model_service %q is not defined", i, a.ModelServiceID)
		}
		agents[a.ID] = true
	}

	for i, g := range c.Groups {
		for _, m := range g.Members {
			if !agents[m] {
				return fmt.Errorf("groups[%d].members: agent %q is not defined", i, m)
			}
		}
	}

	return nil
}

// NewLogger builds the structured logger described by the logging section.
// The returned close function releases the log file, if any.
func (c *Config) NewLogger() (*logging.ChatLogger, func() error, error) {
	lc := &logging.LoggerConfig{
		Level:     logging.ParseLevel(c.Logging.Level),
		Format:    c.Logging.Format,
		Output:    os.Stderr,
		AddSource: c.Logging.AddSource,
		Component: "chatmesh",
	}
	closeFn := func() error { return nil }

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(c.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		lc.Output = f
		closeFn = f.Close
	}

	return logging.NewLogger(lc), closeFn, nil
}

// OpenStore opens the configured blob store. The returned close function
// releases the underlying database, if any.
func (c *Config) OpenStore() (core.BlobStore, func() error, error) {
	noop := func() error { return nil }

	switch c.Storage.Backend {
	case BackendFile:
		fs, err := blobstore.NewFileStore(c.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return fs, noop, nil
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(c.Storage.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating database directory: %w", err)
		}
		db, err := blobstore.NewSQLiteStore(c.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return blobstore.NewInMemoryStore(), noop, nil
	}
}

// NewPersister wraps store in a snapshotter using the configured key.
func (c *Config) NewPersister(store core.BlobStore, logger logging.Logger) *blobstore.Snapshotter {
	return blobstore.NewSnapshotter(store, func(o *blobstore.SnapshotterOptions) {
		if c.Storage.Key != "" {
			o.Key = c.Storage.Key
		}
		if logger != nil {
			o.Logger = logger
		}
	})
}
