package model

import (
	"time"
)

// HealthSnapshot is an immutable point-in-time record of an account's
// platform health. New observations append a new row; rows are never
// updated.
type HealthSnapshot struct {
	ID                  string    `db:"id" json:"id"`
	AccountID           string    `db:"account_id" json:"accountId"`
	Karma               int       `db:"karma" json:"karma"`
	AccountAgeDays      int       `db:"account_age_days" json:"accountAgeDays"`
	RemovedContentCount int       `db:"removed_content_count" json:"removedContentCount"`
	DeletedContentCount int       `db:"deleted_content_count" json:"deletedContentCount"`
	BanEvents           int       `db:"ban_events" json:"banEvents"`
	Shadowbanned        bool      `db:"shadowbanned" json:"shadowbanned"`
	CaptchaTriggered    bool      `db:"captcha_triggered" json:"captchaTriggered"`
	LoginFailed         bool      `db:"login_failed" json:"loginFailed"`
	CapturedAt          time.Time `db:"captured_at" json:"capturedAt"`
}

type CreateSnapshotParams struct {
	ID         string
	AccountID  string
	Input      HealthInput
	CapturedAt time.Time
}

// HealthInput carries the raw counters the external Reddit client observed.
// The engine never talks to Reddit itself; it only consumes these.
type HealthInput struct {
	Karma               int  `json:"karma"`
	AccountAgeDays      int  `json:"accountAgeDays"`
	RemovedContentCount int  `json:"removedContentCount"`
	DeletedContentCount int  `json:"deletedContentCount"`
	BanEvents           int  `json:"banEvents"`
	Shadowbanned        bool `json:"shadowbanned"`
	CaptchaTriggered    bool `json:"captchaTriggered"`
	LoginFailed         bool `json:"loginFailed"`
}
