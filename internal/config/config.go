package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Session   SessionConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir   string
	IndexFile string // vector index file name inside DataDir
	Timezone  string // IANA name used for timestamp aggregation offsets
}

type EmbeddingConfig struct {
	Backend      string // "ollama" or "openai"
	OllamaURL    string
	Model        string
	OpenAIKey    string
	OpenAIModel  string
	Dimension    int
	MaxTokens    int
	EmbedTimeout time.Duration
}

type SessionConfig struct {
	HeartbeatInterval time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir:   defaultDataDir(),
			IndexFile: "chatmem.vec",
			Timezone:  "UTC",
		},
		Embedding: EmbeddingConfig{
			Backend:      "ollama",
			OllamaURL:    "http://localhost:11434",
			Model:        "nomic-embed-text",
			OpenAIModel:  "text-embedding-3-small",
			Dimension:    768,
			MaxTokens:    512,
			EmbedTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			HeartbeatInterval: 60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatmem"
	}
	return filepath.Join(home, ".chatmem")
}

// Load reads configuration from an optional .env file and CHATMEM_*
// environment variables layered over built-in defaults. Environment
// variables always win over .env values.
func Load() (Config, error) {
	// Missing .env is fine; only present values are loaded.
	_ = godotenv.Load()

	cfg := defaults()

	cfg.Server.Port = getEnvInt("CHATMEM_PORT", cfg.Server.Port)
	cfg.Server.APIToken = getEnv("CHATMEM_API_TOKEN", cfg.Server.APIToken)

	cfg.Storage.DataDir = getEnv("CHATMEM_DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.IndexFile = getEnv("CHATMEM_INDEX_FILE", cfg.Storage.IndexFile)
	cfg.Storage.Timezone = getEnv("CHATMEM_TIMEZONE", cfg.Storage.Timezone)

	cfg.Embedding.Backend = getEnv("CHATMEM_EMBED_BACKEND", cfg.Embedding.Backend)
	cfg.Embedding.OllamaURL = getEnv("CHATMEM_OLLAMA_URL", cfg.Embedding.OllamaURL)
	cfg.Embedding.Model = getEnv("CHATMEM_EMBED_MODEL", cfg.Embedding.Model)
	cfg.Embedding.OpenAIKey = getEnv("OPENAI_API_KEY", cfg.Embedding.OpenAIKey)
	cfg.Embedding.OpenAIModel = getEnv("CHATMEM_OPENAI_EMBED_MODEL", cfg.Embedding.OpenAIModel)
	cfg.Embedding.Dimension = getEnvInt("CHATMEM_EMBED_DIM", cfg.Embedding.Dimension)
	cfg.Embedding.MaxTokens = getEnvInt("CHATMEM_EMBED_MAX_TOKENS", cfg.Embedding.MaxTokens)
	cfg.Embedding.EmbedTimeout = getEnvDuration("CHATMEM_EMBED_TIMEOUT", cfg.Embedding.EmbedTimeout)

	cfg.Session.HeartbeatInterval = getEnvDuration("CHATMEM_HEARTBEAT_INTERVAL", cfg.Session.HeartbeatInterval)

	cfg.Log.Level = getEnv("CHATMEM_LOG_LEVEL", cfg.Log.Level)

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Embedding.Backend {
	case "ollama":
	case "openai":
		if c.Embedding.OpenAIKey == "" {
			return fmt.Errorf("embedding backend %q requires OPENAI_API_KEY", c.Embedding.Backend)
		}
	default:
		return fmt.Errorf("unknown embedding backend %q (want \"ollama\" or \"openai\")", c.Embedding.Backend)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.Session.HeartbeatInterval)
	}
	if _, err := time.LoadLocation(c.Storage.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Storage.Timezone, err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
