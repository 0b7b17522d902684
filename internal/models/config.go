package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig  `json:"server"`
	Database DatabaseConfig `json:"database"`
	Chat     ChatConfig    `json:"chat"`
	Auth     AuthConfig    `json:"auth"`
	Retry    RetryConfig   `json:"retry"`
	Tracing  TracingConfig `json:"tracing"`
	LogLevel string        `json:"log_level"`
}

// ServerConfig holds HTTP server related configurations
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// ChatConfig holds message routing related configurations
type ChatConfig struct {
	MaxContentLength     int `json:"maxContentLength"`
	DispatchTimeoutMs    int `json:"dispatchTimeoutMs"`
	RetentionDays        int `json:"retentionDays"`
	CleanupIntervalHours int `json:"cleanupIntervalHours"`
	PendingCheckSec      int `json:"pendingCheckSec"`
	PendingStaleSec      int `json:"pendingStaleSec"`
}

// AuthConfig holds authentication related configurations
type AuthConfig struct {
	TokenSecret     string `json:"token_secret"`
	TokenTTLMinutes int    `json:"tokenTTLMinutes"`
	BcryptCost      int    `json:"bcryptCost"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry related configurations
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
