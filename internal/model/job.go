package model

import (
	"encoding/json"
	"time"
)

// ActionKey identifies the (account, action type) pair that quota counters,
// circuit breakers, and in-flight job guards are keyed on.
type ActionKey struct {
	AccountID string     `db:"account_id" json:"accountId"`
	Action    ActionType `db:"action_type" json:"actionType"`
}

func (k ActionKey) String() string {
	return k.AccountID + "/" + string(k.Action)
}

type ScheduledJob struct {
	ID           string     `db:"id" json:"id"`
	AccountID    string     `db:"account_id" json:"accountId"`
	Action       ActionType `db:"action_type" json:"actionType"`
	Subreddit    string     `db:"subreddit" json:"subreddit"`
	TargetRef    *string    `db:"target_ref" json:"targetRef,omitempty"`
	Status       JobStatus  `db:"status" json:"status"`
	DueAt        time.Time  `db:"due_at" json:"dueAt"`
	DeadlineAt   time.Time  `db:"deadline_at" json:"deadlineAt"`
	ErrorClass   *string    `db:"error_class" json:"errorClass,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	DispatchedAt *time.Time `db:"dispatched_at" json:"dispatchedAt,omitempty"`
	FinalizedAt  *time.Time `db:"finalized_at" json:"finalizedAt,omitempty"`
}

func (j *ScheduledJob) Key() ActionKey {
	return ActionKey{AccountID: j.AccountID, Action: j.Action}
}

// ToStreamEventData returns the JSON payload announced to executors on the
// job stream when the job becomes available.
func (j *ScheduledJob) ToStreamEventData() json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"id":         j.ID,
		"accountId":  j.AccountID,
		"actionType": j.Action,
		"subreddit":  j.Subreddit,
		"targetRef":  j.TargetRef,
		"dueAt":      j.DueAt,
		"deadlineAt": j.DeadlineAt,
	})
	return data
}

type CreateJobParams struct {
	ID         string
	AccountID  string
	Action     ActionType
	Subreddit  string
	TargetRef  *string
	DueAt      time.Time
	DeadlineAt time.Time
}

// JobOutcome is the executor's report for one dispatched job.
type JobOutcome struct {
	Success      bool
	ErrorClass   string
	ErrorMessage string
	RetryAfter   time.Duration
}

// OutcomeStats aggregates terminal job counts for one action type over a
// review period.
type OutcomeStats struct {
	Action    ActionType `db:"action_type" json:"actionType"`
	Succeeded int        `db:"succeeded" json:"succeeded"`
	Failed    int        `db:"failed" json:"failed"`
}

// FailureRate returns failed/(succeeded+failed), or 0 when there were no
// terminal jobs.
func (s OutcomeStats) FailureRate() float64 {
	total := s.Succeeded + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(total)
}

func (s OutcomeStats) SuccessRate() float64 {
	total := s.Succeeded + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(total)
}

type JobFilter struct {
	AccountID *string
	Status    *JobStatus
	Limit     int
	Offset    int
}
