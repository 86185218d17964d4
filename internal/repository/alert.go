package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/karmaloop/automation-server-go/internal/model"
)

type AlertRepository interface {
	Create(ctx context.Context, params model.CreateAlertParams) (*model.Alert, error)
	FindByID(ctx context.Context, id string) (*model.Alert, error)
	// FindUnresolvedByKind returns the open alert for (account, kind), if
	// any. Auto-raised alerts dedupe through this before creating.
	FindUnresolvedByKind(ctx context.Context, accountID string, kind model.AlertKind) (*model.Alert, error)
	// FindUnresolvedByFingerprint is the dedupe lookup for alerts that are
	// not account-scoped, such as failure patterns.
	FindUnresolvedByFingerprint(ctx context.Context, kind model.AlertKind, fingerprint string) (*model.Alert, error)
	List(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)
	CountUnresolved(ctx context.Context) (int, error)
	Resolve(ctx context.Context, id string, now time.Time) (*model.Alert, error)
	// ResolveByKind resolves every open alert for (account, kind) and
	// returns how many it touched.
	ResolveByKind(ctx context.Context, accountID string, kind model.AlertKind, now time.Time) (int64, error)
	// ResolveByFingerprint resolves the open alert carrying a fingerprint,
	// used when the condition it flagged has cleared.
	ResolveByFingerprint(ctx context.Context, kind model.AlertKind, fingerprint string, now time.Time) (int64, error)
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) AlertRepository
}

type alertRepo struct {
	db sqlxDB
}

func NewAlertRepository(db *sqlx.DB) AlertRepository {
	return &alertRepo{db: db}
}

func (r *alertRepo) WithTx(tx *sqlx.Tx) AlertRepository {
	return &alertRepo{db: tx}
}

func (r *alertRepo) Create(ctx context.Context, params model.CreateAlertParams) (*model.Alert, error) {
	var alert model.Alert
	err := r.db.GetContext(ctx, &alert, `
		INSERT INTO alerts (id, account_id, kind, severity, message, fingerprint)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.ID, params.AccountID, params.Kind, params.Severity, params.Message, params.Fingerprint)
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (r *alertRepo) FindByID(ctx context.Context, id string) (*model.Alert, error) {
	var alert model.Alert
	err := r.db.GetContext(ctx, &alert, `
		SELECT * FROM alerts WHERE id = $1
	`, id)
	return HandleNotFound(&alert, err)
}

func (r *alertRepo) FindUnresolvedByKind(ctx context.Context, accountID string, kind model.AlertKind) (*model.Alert, error) {
	var alert model.Alert
	err := r.db.GetContext(ctx, &alert, `
		SELECT * FROM alerts
		WHERE account_id = $1 AND kind = $2 AND resolved = false
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID, kind)
	return HandleNotFound(&alert, err)
}

func (r *alertRepo) FindUnresolvedByFingerprint(ctx context.Context, kind model.AlertKind, fingerprint string) (*model.Alert, error) {
	var alert model.Alert
	err := r.db.GetContext(ctx, &alert, `
		SELECT * FROM alerts
		WHERE kind = $1 AND fingerprint = $2 AND resolved = false
		ORDER BY created_at DESC
		LIMIT 1
	`, kind, fingerprint)
	return HandleNotFound(&alert, err)
}

func (r *alertRepo) List(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	var alerts []model.Alert
	err := r.db.SelectContext(ctx, &alerts, `
		SELECT * FROM alerts
		WHERE ($1::text IS NULL OR account_id = $1)
		  AND ($2::boolean IS NULL OR resolved = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, filter.AccountID, filter.Resolved, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

func (r *alertRepo) CountUnresolved(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM alerts WHERE resolved = false`)
	return count, err
}

func (r *alertRepo) Resolve(ctx context.Context, id string, now time.Time) (*model.Alert, error) {
	var alert model.Alert
	err := r.db.GetContext(ctx, &alert, `
		UPDATE alerts SET resolved = true, resolved_at = $2
		WHERE id = $1 AND resolved = false
		RETURNING *
	`, id, now)
	return HandleNotFound(&alert, err)
}

func (r *alertRepo) ResolveByKind(ctx context.Context, accountID string, kind model.AlertKind, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET resolved = true, resolved_at = $3
		WHERE account_id = $1 AND kind = $2 AND resolved = false
	`, accountID, kind, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *alertRepo) ResolveByFingerprint(ctx context.Context, kind model.AlertKind, fingerprint string, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET resolved = true, resolved_at = $3
		WHERE kind = $1 AND fingerprint = $2 AND resolved = false
	`, kind, fingerprint, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *alertRepo) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM alerts
		WHERE resolved = true AND resolved_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
