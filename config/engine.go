package config

import "time"

// MaxBulkBatch is the hard cap on ids per bulk cancel statement.
const MaxBulkBatch = 100

// EngineConfig holds the lifecycle knobs shared by every service mode.
type EngineConfig struct {
	// RetryBaseBackoff is multiplied by the new retry count on each re-queue.
	RetryBaseBackoff time.Duration `env:"RETRY_BASE_BACKOFF" envDefault:"5s"`

	// DefaultMaxRetries is applied when a submission does not set its own budget.
	DefaultMaxRetries int `env:"DEFAULT_MAX_RETRIES" envDefault:"3"`

	// ClaimLease hides a claimed job from other claimers until it is started.
	ClaimLease time.Duration `env:"CLAIM_LEASE" envDefault:"30s"`

	// BulkMaxBatch is the number of ids cancelled per statement.
	BulkMaxBatch int `env:"BULK_MAX_BATCH" envDefault:"100"`

	// StatsCacheTTL is how long the admin stats snapshot is served from Redis.
	StatsCacheTTL time.Duration `env:"STATS_CACHE_TTL" envDefault:"10s"`
}

// Sanitize applies guardrails to engine configuration values.
func (e *EngineConfig) Sanitize() {
	if e.RetryBaseBackoff <= 0 {
		e.RetryBaseBackoff = 5 * time.Second
	}
	if e.DefaultMaxRetries < 1 {
		e.DefaultMaxRetries = 3
	}
	if e.ClaimLease < time.Second {
		e.ClaimLease = 30 * time.Second
	}
	if e.BulkMaxBatch < 1 || e.BulkMaxBatch > MaxBulkBatch {
		e.BulkMaxBatch = MaxBulkBatch
	}
	if e.StatsCacheTTL < 0 {
		e.StatsCacheTTL = 0
	}
}
