package constants

import "time"

const (
	DefaultRateLimitInterval = 1 * time.Second
	DefaultRetryBackoff      = 1 * time.Second
	UpstreamMaxAttempts      = 3
	SyncMaxPageFailures      = 3
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
	// refresh walks every page behind a 1 req/s gate
	RefreshTimeout = 15 * time.Minute
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	// rows per multi-row insert; 9 columns each stays under sqlite's 999 variables
	DBBatchSize = 100
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	LockPollInterval = 100 * time.Millisecond
	LockTTL          = RefreshTimeout
)

const (
	// refreshes share one rate gate, more workers only queue on it
	SchedulerConcurrency = 2
)

const (
	UnknownNickname = "Unknown"
)
