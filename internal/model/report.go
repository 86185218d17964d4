package model

import (
	"time"
)

// BreakerSnapshot is the externally visible state of one circuit breaker.
type BreakerSnapshot struct {
	Key             ActionKey    `json:"key"`
	State           BreakerState `json:"state"`
	Failures        int          `json:"failures"`
	Attempts        int          `json:"attempts"`
	CooldownSeconds float64      `json:"cooldownSeconds"`
	OpenedAt        *time.Time   `json:"openedAt,omitempty"`
	ProbeInFlight   bool         `json:"probeInFlight"`
}

// AccountSafety is the per-account section of a safety report.
type AccountSafety struct {
	AccountID    string             `json:"accountId"`
	Username     string             `json:"username"`
	TrustScore   float64            `json:"trustScore"`
	Status       HealthStatus       `json:"status"`
	Suspended    bool               `json:"suspended"`
	Shadowbanned bool               `json:"shadowbanned"`
	UsageToday   map[ActionType]int `json:"usageToday"`
	OpenBreakers []BreakerSnapshot  `json:"openBreakers,omitempty"`
}

type SafetyReport struct {
	GeneratedAt       time.Time       `json:"generatedAt"`
	Accounts          []AccountSafety `json:"accounts"`
	TotalAccounts     int             `json:"totalAccounts"`
	SuspendedCount    int             `json:"suspendedCount"`
	ShadowbannedCount int             `json:"shadowbannedCount"`
	OpenBreakerCount  int             `json:"openBreakerCount"`
	UnresolvedAlerts  int             `json:"unresolvedAlerts"`
}

// ErrorPattern is one analyzer grouping of failed jobs. Kind is derived
// from ErrorClass by the analyzer, not stored.
type ErrorPattern struct {
	Action        ActionType `db:"action_type" json:"actionType"`
	Subreddit     string     `db:"subreddit" json:"subreddit"`
	ErrorClass    string     `db:"error_class" json:"errorClass"`
	Kind          string     `db:"-" json:"kind"`
	Count         int        `db:"count" json:"count"`
	FirstSeen     time.Time  `db:"first_seen" json:"firstSeen"`
	LastSeen      time.Time  `db:"last_seen" json:"lastSeen"`
	SampleMessage string     `db:"sample_message" json:"sampleMessage"`
}
