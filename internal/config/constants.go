package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Billing
const (
	// Calls shorter than this after accept are not charged.
	BillingGracePeriod = 10 * time.Second
	// Client-reported durations further than this from the server clock are logged.
	DurationDiscrepancyThreshold = 15 * time.Second
)

// An earner may call a payer without a balance check while the payer's
// availability timestamp is younger than this.
const PayerFreshnessWindow = time.Hour

// Media credentials
const MediaCredentialTTL = 24 * time.Hour

// Background job intervals
const (
	OutboxDispatchInterval = 2 * time.Second
	PresenceJobInterval    = 30 * time.Second
	OutboxRetention        = 24 * time.Hour
)

// Outbox dispatch tuning
const (
	OutboxBatchSize    = 50
	OutboxClaimLease   = 30 * time.Second
	OutboxBaseBackoff  = 2 * time.Second
	OutboxMaxBackoff   = 2 * time.Minute
	OutboxSendTimeout  = 10 * time.Second
	RelayClientTimeout = 3 * time.Second
)

// Matching
const (
	MatchReservationTTL = 10 * time.Second
	MatchRecentAnyKind  = 30 * time.Minute
	MatchRecentSameKind = 15 * time.Minute
	MatchRecentCalls    = 20
	MatchRelaxedCalls   = 5
)

// Default rate limiting
const DefaultRateLimitPerMin = 60
