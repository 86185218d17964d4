package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/karmaloop/automation-server-go/internal/model"
)

type HealthRepository interface {
	// Insert appends a new immutable snapshot row.
	Insert(ctx context.Context, params model.CreateSnapshotParams) (*model.HealthSnapshot, error)
	LatestByAccount(ctx context.Context, accountID string) (*model.HealthSnapshot, error)
	// LatestAll returns the most recent snapshot per account.
	LatestAll(ctx context.Context) ([]model.HealthSnapshot, error)
	History(ctx context.Context, accountID string, limit int) ([]model.HealthSnapshot, error)
	// DeleteBefore removes snapshots older than the cutoff but always keeps
	// each account's most recent row, so trust evidence never ages out
	// entirely.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) HealthRepository
}

type healthRepo struct {
	db sqlxDB
}

func NewHealthRepository(db *sqlx.DB) HealthRepository {
	return &healthRepo{db: db}
}

func (r *healthRepo) WithTx(tx *sqlx.Tx) HealthRepository {
	return &healthRepo{db: tx}
}

func (r *healthRepo) Insert(ctx context.Context, params model.CreateSnapshotParams) (*model.HealthSnapshot, error) {
	var snapshot model.HealthSnapshot
	err := r.db.GetContext(ctx, &snapshot, `
		INSERT INTO health_snapshots (
			id, account_id, karma, account_age_days,
			removed_content_count, deleted_content_count, ban_events,
			shadowbanned, captcha_triggered, login_failed, captured_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING *
	`, params.ID, params.AccountID, params.Input.Karma, params.Input.AccountAgeDays,
		params.Input.RemovedContentCount, params.Input.DeletedContentCount, params.Input.BanEvents,
		params.Input.Shadowbanned, params.Input.CaptchaTriggered, params.Input.LoginFailed,
		params.CapturedAt)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *healthRepo) LatestByAccount(ctx context.Context, accountID string) (*model.HealthSnapshot, error) {
	var snapshot model.HealthSnapshot
	err := r.db.GetContext(ctx, &snapshot, `
		SELECT * FROM health_snapshots
		WHERE account_id = $1
		ORDER BY captured_at DESC
		LIMIT 1
	`, accountID)
	return HandleNotFound(&snapshot, err)
}

func (r *healthRepo) LatestAll(ctx context.Context) ([]model.HealthSnapshot, error) {
	var snapshots []model.HealthSnapshot
	err := r.db.SelectContext(ctx, &snapshots, `
		SELECT DISTINCT ON (account_id) * FROM health_snapshots
		ORDER BY account_id, captured_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (r *healthRepo) History(ctx context.Context, accountID string, limit int) ([]model.HealthSnapshot, error) {
	var snapshots []model.HealthSnapshot
	err := r.db.SelectContext(ctx, &snapshots, `
		SELECT * FROM health_snapshots
		WHERE account_id = $1
		ORDER BY captured_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (r *healthRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM health_snapshots
		WHERE captured_at < $1
		  AND id NOT IN (
			SELECT DISTINCT ON (account_id) id FROM health_snapshots
			ORDER BY account_id, captured_at DESC
		  )
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
