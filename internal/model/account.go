package model

import (
	"time"

	"github.com/lib/pq"
)

type Account struct {
	ID                 string         `db:"id" json:"id"`
	Username           string         `db:"username" json:"username"`
	Suspended          bool           `db:"suspended" json:"suspended"`
	SuspendedReason    *string        `db:"suspended_reason" json:"suspendedReason,omitempty"`
	SuspendedSource    *SuspendSource `db:"suspended_source" json:"suspendedSource,omitempty"`
	AutoUpvoteEnabled  bool           `db:"auto_upvote_enabled" json:"autoUpvoteEnabled"`
	AutoCommentEnabled bool           `db:"auto_comment_enabled" json:"autoCommentEnabled"`
	AutoPostEnabled    bool           `db:"auto_post_enabled" json:"autoPostEnabled"`
	MaxDailyUpvotes    int            `db:"max_daily_upvotes" json:"maxDailyUpvotes"`
	MaxDailyComments   int            `db:"max_daily_comments" json:"maxDailyComments"`
	MaxDailyPosts      int            `db:"max_daily_posts" json:"maxDailyPosts"`
	Subreddits         pq.StringArray `db:"subreddits" json:"subreddits"`
	Windows            WindowMap      `db:"windows" json:"windows"`
	Tuning             TuningMap      `db:"tuning" json:"tuning,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updatedAt"`
	SuspendedAt        *time.Time     `db:"suspended_at" json:"suspendedAt,omitempty"`
}

// ActionEnabled reports whether automation for the action type is switched
// on for this account.
func (a *Account) ActionEnabled(action ActionType) bool {
	switch action {
	case ActionUpvote:
		return a.AutoUpvoteEnabled
	case ActionComment:
		return a.AutoCommentEnabled
	case ActionPost:
		return a.AutoPostEnabled
	}
	return false
}

// MaxDaily returns the configured daily maximum for the action type, before
// any optimizer scaling.
func (a *Account) MaxDaily(action ActionType) int {
	switch action {
	case ActionUpvote:
		return a.MaxDailyUpvotes
	case ActionComment:
		return a.MaxDailyComments
	case ActionPost:
		return a.MaxDailyPosts
	}
	return 0
}

// EffectiveMaxDaily applies the optimizer's max scale to the configured
// daily maximum. A tuned action never drops below one granted action per
// day while it remains enabled.
func (a *Account) EffectiveMaxDaily(action ActionType) int {
	base := a.MaxDaily(action)
	t, ok := a.Tuning[action]
	if !ok || t.MaxScale <= 0 || t.MaxScale >= 1 {
		return base
	}
	scaled := int(float64(base) * t.MaxScale)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// ActiveWindows returns the optimizer-tuned windows for the action when
// present, the base windows otherwise.
func (a *Account) ActiveWindows(action ActionType) []ScheduleWindow {
	if t, ok := a.Tuning[action]; ok && len(t.Windows) > 0 {
		return t.Windows
	}
	return a.Windows[action]
}

// InWindow reports whether t falls inside any active window for the action.
// Accounts with no windows configured for an action run around the clock.
func (a *Account) InWindow(action ActionType, t time.Time) bool {
	windows := a.ActiveWindows(action)
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

type CreateAccountParams struct {
	ID                 string
	Username           string
	AutoUpvoteEnabled  bool
	AutoCommentEnabled bool
	AutoPostEnabled    bool
	MaxDailyUpvotes    int
	MaxDailyComments   int
	MaxDailyPosts      int
	Subreddits         []string
	Windows            WindowMap
}

type UpdateSettingsParams struct {
	AutoUpvoteEnabled  *bool
	AutoCommentEnabled *bool
	AutoPostEnabled    *bool
	MaxDailyUpvotes    *int
	MaxDailyComments   *int
	MaxDailyPosts      *int
	Subreddits         []string
	Windows            WindowMap
}
