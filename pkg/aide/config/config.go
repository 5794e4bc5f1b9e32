// Package config loads the aide server configuration from an optional
// YAML file with environment variable overrides. The recognized key set
// is closed: anything the server honors is listed here.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for optional settings.
const (
	DefaultPort           = 3000
	DefaultLogLevel       = "info"
	DefaultChatModel      = "gpt-4o"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultMaxIterations  = 25
	DefaultLLMBaseURL     = "https://api.openai.com/v1"
)

// Config holds all server configuration.
type Config struct {
	// DatabaseURL is the Postgres connection string. Required.
	DatabaseURL string `yaml:"database_url"`

	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// LogLevel is one of fatal, error, warn, info, debug, trace.
	LogLevel string `yaml:"log_level"`

	// LLM configures the language model / embeddings provider.
	LLM LLMConfig `yaml:"llm"`

	// Agent configures the conversation engine.
	Agent AgentConfig `yaml:"agent"`

	// Notify configures the push notification target. Both fields absent
	// means notifications are no-ops.
	Notify NotifyConfig `yaml:"notify"`

	// MapsAPIKey enables the directions tool and the departure-check skill.
	MapsAPIKey string `yaml:"maps_api_key"`

	// AppURL is the public base URL used for notification click-throughs
	// (e.g. "https://aide.example.com").
	AppURL string `yaml:"app_url"`
}

// LLMConfig configures the OpenAI-compatible provider endpoint.
type LLMConfig struct {
	// BaseURL is the API base URL (default: OpenAI).
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the chat and embeddings APIs. Required.
	APIKey string `yaml:"api_key"`

	// ChatModel is the model used for chat and thread titling.
	ChatModel string `yaml:"chat_model"`

	// EmbeddingModel is the model used for memory embeddings.
	EmbeddingModel string `yaml:"embedding_model"`
}

// AgentConfig configures the tool-call loop.
type AgentConfig struct {
	// MaxIterations bounds the tool-call loop per run.
	MaxIterations int `yaml:"max_iterations"`
}

// NotifyConfig configures the ntfy-style push endpoint.
type NotifyConfig struct {
	// Server is the push server address (e.g. "https://ntfy.sh").
	Server string `yaml:"server"`

	// Topic is the channel messages are published to.
	Topic string `yaml:"topic"`
}

// Load reads the config file at path (if non-empty and present), applies
// environment overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables when set.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	// OPENAI_API_KEY is the conventional name; LLM_API_KEY wins when both set.
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("CHAT_MODEL"); v != "" {
		c.LLM.ChatModel = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("NTFY_SERVER"); v != "" {
		c.Notify.Server = v
	}
	if v := os.Getenv("NTFY_TOPIC"); v != "" {
		c.Notify.Topic = v
	}
	if v := os.Getenv("MAPS_API_KEY"); v != "" {
		c.MapsAPIKey = v
	}
	if v := os.Getenv("APP_URL"); v != "" {
		c.AppURL = v
	}
}

// applyDefaults fills zero values with defaults.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = DefaultLLMBaseURL
	}
	if c.LLM.ChatModel == "" {
		c.LLM.ChatModel = DefaultChatModel
	}
	if c.LLM.EmbeddingModel == "" {
		c.LLM.EmbeddingModel = DefaultEmbeddingModel
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = DefaultMaxIterations
	}
	c.AppURL = strings.TrimRight(c.AppURL, "/")
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (set DATABASE_URL)")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm api key is required (set LLM_API_KEY or OPENAI_API_KEY)")
	}
	return nil
}

// SlogLevel maps the configured log level onto slog. The fatal and trace
// levels collapse onto error and debug respectively.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "fatal", "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug", "trace":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
