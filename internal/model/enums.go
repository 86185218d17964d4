package model

type ActionType string

const (
	ActionUpvote  ActionType = "upvote"
	ActionComment ActionType = "comment"
	ActionPost    ActionType = "post"
)

// ActionTypes lists every action type in scheduling priority order.
// The scheduler iterates this slice, so the order here is load-bearing.
var ActionTypes = []ActionType{ActionUpvote, ActionComment, ActionPost}

func (a ActionType) Valid() bool {
	switch a {
	case ActionUpvote, ActionComment, ActionPost:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusDispatched JobStatus = "dispatched"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether a job in this status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// SuspendSource records who suspended an account. The monitor only
// auto-resumes its own suspensions; operator holds stay until an operator
// lifts them.
type SuspendSource string

const (
	SuspendSourceMonitor  SuspendSource = "monitor"
	SuspendSourceOperator SuspendSource = "operator"
)

type AlertSeverity string

const (
	SeverityInfo    AlertSeverity = "info"
	SeverityWarning AlertSeverity = "warning"
	SeverityHigh    AlertSeverity = "high"
)

type AlertKind string

const (
	AlertAutomationSuspended AlertKind = "automation_suspended"
	AlertBreakerOpen         AlertKind = "breaker_open"
	AlertFailurePattern      AlertKind = "failure_pattern"
)

type HealthStatus string

const (
	HealthStatusHealthy      HealthStatus = "healthy"
	HealthStatusWarning      HealthStatus = "warning"
	HealthStatusCritical     HealthStatus = "critical"
	HealthStatusShadowbanned HealthStatus = "shadowbanned"
)
