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

// Engine warmup timeout covers seeding the in-flight guard from open jobs.
const EngineStartTimeout = 30 * time.Second

// Health snapshot cache bounds. The monitor answers trust lookups from
// memory between database reads.
const (
	HealthCacheTTL  = 15 * time.Minute
	HealthCacheSize = 4096
)

// Executor claim batch bounds
const (
	DefaultClaimLimit = 20
	MaxClaimLimit     = 100
)

// Quota day keys use a fixed UTC boundary so every process agrees on when
// a day rolls over.
const QuotaDayFormat = time.DateOnly
