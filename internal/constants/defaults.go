package constants

// Default server configuration values
const (
	DefaultServerPort            = 8081
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
)

// Default chat configuration values
const (
	DefaultMaxContentLength       = 4096
	DefaultMaxIdentityLength      = 128
	DefaultDispatchTimeoutMs      = 5000
	DefaultRetentionDays          = 30
	CleanupSchedulerIntervalHours = 24
	DefaultPendingCheckSec        = 60
	DefaultPendingStaleSec        = 300
)

// Default auth configuration values
const (
	DefaultTokenTTLMinutes = 1440
	DefaultBcryptCost      = 12
	MinTokenSecretLength   = 32
	MinPasswordLength      = 8
	MaxUsernameLength      = 64
)

// Default retry configuration values
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
)

// Privacy settings
const (
	DefaultIdentityMaskLength = 4
)
