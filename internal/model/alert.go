package model

import (
	"time"
)

// Alert flags a safety condition for operators. Account-scoped alerts
// (suspensions, open breakers) carry an AccountID; fleet-wide failure
// patterns do not. Fingerprint identifies auto-raised alerts so the engine
// can dedupe and resolve them.
type Alert struct {
	ID          string        `db:"id" json:"id"`
	AccountID   *string       `db:"account_id" json:"accountId,omitempty"`
	Kind        AlertKind     `db:"kind" json:"kind"`
	Severity    AlertSeverity `db:"severity" json:"severity"`
	Message     string        `db:"message" json:"message"`
	Fingerprint *string       `db:"fingerprint" json:"-"`
	Resolved    bool          `db:"resolved" json:"resolved"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	ResolvedAt  *time.Time    `db:"resolved_at" json:"resolvedAt,omitempty"`
}

type CreateAlertParams struct {
	ID          string
	AccountID   *string
	Kind        AlertKind
	Severity    AlertSeverity
	Message     string
	Fingerprint *string
}

type AlertFilter struct {
	AccountID *string
	Resolved  *bool
	Limit     int
	Offset    int
}
