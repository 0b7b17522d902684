package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"chatrelay/internal/constants"
	"chatrelay/internal/models"
	"chatrelay/internal/security"
)

var (
	ErrMissingDBPath      = models.ConfigError{Message: "missing database path"}
	ErrMissingTokenSecret = models.ConfigError{Message: "missing auth token secret"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Auth.TokenSecret == "" {
		return ErrMissingTokenSecret
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Chat.MaxContentLength <= 0 {
		c.Chat.MaxContentLength = constants.DefaultMaxContentLength
	}
	if c.Chat.DispatchTimeoutMs <= 0 {
		c.Chat.DispatchTimeoutMs = constants.DefaultDispatchTimeoutMs
	}
	if c.Chat.RetentionDays <= 0 {
		c.Chat.RetentionDays = constants.DefaultRetentionDays
	}
	if c.Chat.CleanupIntervalHours <= 0 {
		c.Chat.CleanupIntervalHours = constants.CleanupSchedulerIntervalHours
	}
	if c.Chat.PendingCheckSec <= 0 {
		c.Chat.PendingCheckSec = constants.DefaultPendingCheckSec
	}
	if c.Chat.PendingStaleSec <= 0 {
		c.Chat.PendingStaleSec = constants.DefaultPendingStaleSec
	}

	if c.Auth.TokenTTLMinutes <= 0 {
		c.Auth.TokenTTLMinutes = constants.DefaultTokenTTLMinutes
	}
	if c.Auth.BcryptCost <= 0 {
		c.Auth.BcryptCost = constants.DefaultBcryptCost
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	// SECURITY: the token secret should come from the environment, not
	// the config file checked into deployment repos.
	if secret := os.Getenv("CHATRELAY_TOKEN_SECRET"); secret != "" {
		c.Auth.TokenSecret = secret
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("CHATRELAY_ENV") == "production"

	if isProduction {
		if len(c.Auth.TokenSecret) < constants.MinTokenSecretLength {
			return models.ConfigError{Message: fmt.Sprintf(
				"auth token secret must be at least %d characters long in production (set CHATRELAY_TOKEN_SECRET environment variable)",
				constants.MinTokenSecretLength)}
		}

		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if len(c.Auth.TokenSecret) < constants.MinTokenSecretLength {
		fmt.Fprintf(os.Stderr, "WARNING: auth token secret is shorter than %d characters. Use a stronger secret before deploying.\n",
			constants.MinTokenSecretLength)
	}

	return nil
}
