package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port         int    `env:"PORT" envDefault:"8080"`
	DatabaseURL  string `env:"DATABASE_URL,required"`
	RedisURL     string `env:"REDIS_URL,required"`
	ServiceToken string `env:"SERVICE_TOKEN"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	// Per-IP request budget for the HTTP API over a sliding minute.
	// Zero disables the check. Outbound pacing is separate.
	APIRateLimitPerMin int `env:"API_RATE_LIMIT_PER_MIN" envDefault:"120"`

	// Quota backend: "memory" for single-process deployments, "redis" when
	// several schedulers share one quota space.
	QuotaBackend string `env:"QUOTA_BACKEND" envDefault:"memory"`

	// Trigger cadences.
	TickInterval          time.Duration `env:"TICK_INTERVAL" envDefault:"1m"`
	AuditInterval         time.Duration `env:"AUDIT_INTERVAL" envDefault:"5m"`
	HealthRefreshInterval time.Duration `env:"HEALTH_REFRESH_INTERVAL" envDefault:"1h"`
	BreakerSweepInterval  time.Duration `env:"BREAKER_SWEEP_INTERVAL" envDefault:"12h"`
	QuotaResetCron        string        `env:"QUOTA_RESET_CRON" envDefault:"0 0 * * *"`
	SafetyReportCron      string        `env:"SAFETY_REPORT_CRON" envDefault:"30 0 * * *"`
	ErrorAnalysisCron     string        `env:"ERROR_ANALYSIS_CRON" envDefault:"0 1 * * *"`
	OptimizeCron          string        `env:"OPTIMIZE_CRON" envDefault:"0 4 * * 0"`
	CleanupCron           string        `env:"CLEANUP_CRON" envDefault:"0 3 * * 0"`

	// Circuit breaker tuning.
	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerWindowSize       int           `env:"BREAKER_WINDOW_SIZE" envDefault:"15"`
	BreakerBaseCooldown     time.Duration `env:"BREAKER_BASE_COOLDOWN" envDefault:"12h"`
	BreakerMaxCooldown      time.Duration `env:"BREAKER_MAX_COOLDOWN" envDefault:"96h"`

	// Trust scoring.
	TrustFloor      float64 `env:"TRUST_FLOOR" envDefault:"0.3"`
	TrustWarnBelow  float64 `env:"TRUST_WARN_BELOW" envDefault:"0.6"`
	PenaltyBan      float64 `env:"PENALTY_BAN" envDefault:"0.3"`
	PenaltyDeletion float64 `env:"PENALTY_DELETION" envDefault:"0.2"`
	PenaltyRemoval  float64 `env:"PENALTY_REMOVAL" envDefault:"0.1"`

	// Scheduler.
	JobDeadline         time.Duration `env:"JOB_DEADLINE" envDefault:"10m"`
	PaceUpvotesPerHour  int           `env:"PACE_UPVOTES_PER_HOUR" envDefault:"60"`
	PaceCommentsPerHour int           `env:"PACE_COMMENTS_PER_HOUR" envDefault:"10"`
	PacePostsPerHour    int           `env:"PACE_POSTS_PER_HOUR" envDefault:"3"`

	// Optimizer.
	OptimizerReviewPeriod time.Duration `env:"OPTIMIZER_REVIEW_PERIOD" envDefault:"168h"`
	OptimizerMinSample    int           `env:"OPTIMIZER_MIN_SAMPLE" envDefault:"10"`
	SoftFailureRate       float64       `env:"SOFT_FAILURE_RATE" envDefault:"0.4"`
	HighSuccessRate       float64       `env:"HIGH_SUCCESS_RATE" envDefault:"0.9"`
	WindowNarrowFactor    float64       `env:"WINDOW_NARROW_FACTOR" envDefault:"0.25"`
	WindowJitter          float64       `env:"WINDOW_JITTER" envDefault:"0.1"`
	MinWindowWidthMinutes int           `env:"MIN_WINDOW_WIDTH_MINUTES" envDefault:"30"`
	MinMaxScale           float64       `env:"MIN_MAX_SCALE" envDefault:"0.25"`

	// Analyzer and retention.
	AnalyzerPeriod        time.Duration `env:"ANALYZER_PERIOD" envDefault:"24h"`
	PatternAlertThreshold int           `env:"PATTERN_ALERT_THRESHOLD" envDefault:"5"`
	JobRetention          time.Duration `env:"JOB_RETENTION" envDefault:"720h"`
	AlertRetention        time.Duration `env:"ALERT_RETENTION" envDefault:"720h"`
	SnapshotRetention     time.Duration `env:"SNAPSHOT_RETENTION" envDefault:"2160h"`

	// Optional Kafka mirror of the job stream.
	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"scheduled-jobs"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PacePerHour returns the hourly pacing cap for an action type name.
func (c *Config) PacePerHour(action string) int {
	switch action {
	case "upvote":
		return c.PaceUpvotesPerHour
	case "comment":
		return c.PaceCommentsPerHour
	case "post":
		return c.PacePostsPerHour
	}
	return 0
}

func (c *Config) KafkaEnabled() bool {
	return strings.TrimSpace(c.KafkaBrokers) != ""
}

func (c *Config) Validate(isProduction bool) error {
	if c.QuotaBackend != "memory" && c.QuotaBackend != "redis" {
		return fmt.Errorf("QUOTA_BACKEND must be \"memory\" or \"redis\", got %q", c.QuotaBackend)
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	if c.BreakerWindowSize < c.BreakerFailureThreshold {
		return fmt.Errorf("BREAKER_WINDOW_SIZE (%d) must be at least BREAKER_FAILURE_THRESHOLD (%d)",
			c.BreakerWindowSize, c.BreakerFailureThreshold)
	}
	if c.BreakerMaxCooldown < c.BreakerBaseCooldown {
		return fmt.Errorf("BREAKER_MAX_COOLDOWN must be at least BREAKER_BASE_COOLDOWN")
	}
	for name, v := range map[string]float64{
		"TRUST_FLOOR":      c.TrustFloor,
		"TRUST_WARN_BELOW": c.TrustWarnBelow,
		"PENALTY_BAN":      c.PenaltyBan,
		"PENALTY_DELETION": c.PenaltyDeletion,
		"PENALTY_REMOVAL":  c.PenaltyRemoval,
	} {
		if v < 0 || v >= 1 {
			return fmt.Errorf("%s must be in [0, 1), got %v", name, v)
		}
	}
	if c.WindowNarrowFactor <= 0 || c.WindowNarrowFactor >= 1 {
		return fmt.Errorf("WINDOW_NARROW_FACTOR must be in (0, 1), got %v", c.WindowNarrowFactor)
	}
	if c.WindowJitter < 0 || c.WindowJitter > 0.5 {
		return fmt.Errorf("WINDOW_JITTER must be in [0, 0.5], got %v", c.WindowJitter)
	}
	if c.SoftFailureRate <= 0 || c.SoftFailureRate >= 1 {
		return fmt.Errorf("SOFT_FAILURE_RATE must be in (0, 1), got %v", c.SoftFailureRate)
	}
	if c.HighSuccessRate <= 0 || c.HighSuccessRate > 1 {
		return fmt.Errorf("HIGH_SUCCESS_RATE must be in (0, 1], got %v", c.HighSuccessRate)
	}
	if c.MinMaxScale <= 0 || c.MinMaxScale > 1 {
		return fmt.Errorf("MIN_MAX_SCALE must be in (0, 1], got %v", c.MinMaxScale)
	}

	if isProduction {
		if err := validateSecret("SERVICE_TOKEN", c.ServiceToken); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	} else if c.ServiceToken == "" {
		log.Warn().Msg("SERVICE_TOKEN is empty: API authentication disabled")
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: go run scripts/gen-token.go)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
