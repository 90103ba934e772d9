package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the command-line launcher.
type Config struct {
	// Serializer names the payload codec: "json" (default) or
	// "msgpack".
	Serializer string
	// PublishSocket and PublishTopic configure where the launcher's
	// own logs are republished when log publishing is enabled.
	PublishSocket string
	PublishTopic  string
}

// New loads configuration from environment variables, reading a .env
// file first when one is present.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}

	cfg := &Config{
		Serializer:    os.Getenv("AGENTZERO_SERIALIZER"),
		PublishSocket: os.Getenv("AGENTZERO_LOG_SOCKET"),
		PublishTopic:  os.Getenv("AGENTZERO_LOG_TOPIC"),
	}
	if cfg.Serializer == "" {
		cfg.Serializer = "json"
	}
	if cfg.PublishTopic == "" {
		cfg.PublishTopic = "logs"
	}
	return cfg
}
