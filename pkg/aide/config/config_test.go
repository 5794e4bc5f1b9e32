package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/aide")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CHAT_MODEL", "")
	t.Setenv("AGENT_MAX_ITERATIONS", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("log level = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.LLM.ChatModel != DefaultChatModel {
		t.Errorf("chat model = %q, want %q", cfg.LLM.ChatModel, DefaultChatModel)
	}
	if cfg.Agent.MaxIterations != DefaultMaxIterations {
		t.Errorf("max iterations = %d, want %d", cfg.Agent.MaxIterations, DefaultMaxIterations)
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aide.yaml")
	data := []byte("database_url: postgres://file/db\nport: 8080\nllm:\n  api_key: from-file\n  chat_model: gpt-4o-mini\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("PORT", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env/db" {
		t.Errorf("env should override file, got %q", cfg.DatabaseURL)
	}
	if cfg.Port != 8080 {
		t.Errorf("port from file = %d, want 8080", cfg.Port)
	}
	if cfg.LLM.APIKey != "from-file" {
		t.Errorf("api key from file = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.ChatModel != "gpt-4o-mini" {
		t.Errorf("chat model from file = %q", cfg.LLM.ChatModel)
	}
}

func TestValidate(t *testing.T) {
	t.Run("missing database", func(t *testing.T) {
		c := &Config{LLM: LLMConfig{APIKey: "k"}}
		if err := c.Validate(); err == nil {
			t.Error("expected error for missing database_url")
		}
	})

	t.Run("missing api key", func(t *testing.T) {
		c := &Config{DatabaseURL: "postgres://x"}
		if err := c.Validate(); err == nil {
			t.Error("expected error for missing api key")
		}
	})
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "DEBUG",
		"trace": "DEBUG",
		"info":  "INFO",
		"warn":  "WARN",
		"error": "ERROR",
		"fatal": "ERROR",
		"bogus": "INFO",
	}
	for in, want := range cases {
		c := &Config{LogLevel: in}
		if got := c.SlogLevel().String(); got != want {
			t.Errorf("SlogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestAppURLTrailingSlash(t *testing.T) {
	c := &Config{AppURL: "https://aide.example.com/"}
	c.applyDefaults()
	if c.AppURL != "https://aide.example.com" {
		t.Errorf("app url = %q, want trailing slash stripped", c.AppURL)
	}
}
