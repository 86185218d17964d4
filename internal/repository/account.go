package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/karmaloop/automation-server-go/internal/model"
)

type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindByUsername(ctx context.Context, username string) (*model.Account, error)
	FindAll(ctx context.Context, limit, offset int) ([]model.Account, error)
	// FindSchedulable returns unsuspended accounts with at least one action
	// enabled, ordered by id ascending so tick output is deterministic.
	FindSchedulable(ctx context.Context) ([]model.Account, error)
	Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error)
	UpdateSettings(ctx context.Context, id string, params model.UpdateSettingsParams) (*model.Account, error)
	UpdateTuning(ctx context.Context, id string, tuning model.TuningMap) (*model.Account, error)
	// SetSuspended flips the suspension flag. source records who suspended
	// (monitor or operator); resuming clears reason and source together.
	SetSuspended(ctx context.Context, id string, suspended bool, reason *string, source *model.SuspendSource, now time.Time) (*model.Account, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AccountRepository
}

type accountRepo struct {
	db sqlxDB
}

// sqlxDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) WithTx(tx *sqlx.Tx) AccountRepository {
	return &accountRepo{db: tx}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1
	`, id)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE username = $1
	`, username)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepo) FindSchedulable(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		WHERE suspended = false
		  AND (auto_upvote_enabled OR auto_comment_enabled OR auto_post_enabled)
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	var account model.Account
	windows := params.Windows
	if windows == nil {
		windows = model.WindowMap{}
	}
	err := r.db.GetContext(ctx, &account, `
		INSERT INTO accounts (
			id, username,
			auto_upvote_enabled, auto_comment_enabled, auto_post_enabled,
			max_daily_upvotes, max_daily_comments, max_daily_posts,
			subreddits, windows
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING *
	`, params.ID, params.Username,
		params.AutoUpvoteEnabled, params.AutoCommentEnabled, params.AutoPostEnabled,
		params.MaxDailyUpvotes, params.MaxDailyComments, params.MaxDailyPosts,
		pq.StringArray(params.Subreddits), windows)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) UpdateSettings(ctx context.Context, id string, params model.UpdateSettingsParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			auto_upvote_enabled = COALESCE($2, auto_upvote_enabled),
			auto_comment_enabled = COALESCE($3, auto_comment_enabled),
			auto_post_enabled = COALESCE($4, auto_post_enabled),
			max_daily_upvotes = COALESCE($5, max_daily_upvotes),
			max_daily_comments = COALESCE($6, max_daily_comments),
			max_daily_posts = COALESCE($7, max_daily_posts),
			subreddits = COALESCE($8, subreddits),
			windows = COALESCE($9, windows),
			updated_at = $10
		WHERE id = $1
		RETURNING *
	`, id,
		params.AutoUpvoteEnabled, params.AutoCommentEnabled, params.AutoPostEnabled,
		params.MaxDailyUpvotes, params.MaxDailyComments, params.MaxDailyPosts,
		pq.StringArray(params.Subreddits), params.Windows, time.Now())
	return HandleNotFound(&account, err)
}

func (r *accountRepo) UpdateTuning(ctx context.Context, id string, tuning model.TuningMap) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			tuning = $2,
			updated_at = $3
		WHERE id = $1
		RETURNING *
	`, id, tuning, time.Now())
	return HandleNotFound(&account, err)
}

func (r *accountRepo) SetSuspended(ctx context.Context, id string, suspended bool, reason *string, source *model.SuspendSource, now time.Time) (*model.Account, error) {
	var account model.Account
	var suspendedAt *time.Time
	if suspended {
		suspendedAt = &now
	}
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			suspended = $2,
			suspended_reason = $3,
			suspended_source = $4,
			suspended_at = $5,
			updated_at = $6
		WHERE id = $1
		RETURNING *
	`, id, suspended, reason, source, suspendedAt, now)
	return HandleNotFound(&account, err)
}

func (r *accountRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return err
}

func (r *accountRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM accounts`)
	return count, err
}
