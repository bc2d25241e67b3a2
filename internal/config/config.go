package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server ServerConfig `mapstructure:"server" validate:"required"`
	Queue  QueueConfig  `mapstructure:"queue"  validate:"required"`
	Worker WorkerConfig `mapstructure:"worker" validate:"required"`
	Auth   AuthConfig   `mapstructure:"auth"   validate:"required"`
	LLM    LLMConfig    `mapstructure:"llm"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// QueueConfig contains the durable queue settings.
type QueueConfig struct {
	// RootDir is the directory holding the queued, inflight, processed and
	// failed locations. It is created on startup if missing.
	RootDir string `mapstructure:"root_dir" validate:"required"`

	// PollInterval is the watcher's fallback scan period when filesystem
	// notifications are unavailable.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`
}

// WorkerConfig contains the worker pool settings.
type WorkerConfig struct {
	Count         int           `mapstructure:"count" validate:"required,gt=0"`
	QueueSize     int           `mapstructure:"queue_size" validate:"required,gt=0"`
	ExecTimeout   time.Duration `mapstructure:"exec_timeout" validate:"gte=0"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" validate:"required,gt=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret        string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMin int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0"`
}

// LLMConfig contains the LLM executor settings. When the API key is empty
// the server runs with the echo executor, which is useful for local
// development and tests.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name"`
}
