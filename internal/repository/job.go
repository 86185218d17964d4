package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/karmaloop/automation-server-go/internal/model"
)

type JobRepository interface {
	Create(ctx context.Context, params model.CreateJobParams) (*model.ScheduledJob, error)
	FindByID(ctx context.Context, id string) (*model.ScheduledJob, error)
	// FindOpen returns every pending or dispatched job. The scheduler seeds
	// its in-flight guard from this at startup.
	FindOpen(ctx context.Context) ([]model.ScheduledJob, error)
	// ClaimDue atomically moves due pending jobs to dispatched and re-bases
	// their deadline. Concurrent claimers never receive the same job.
	ClaimDue(ctx context.Context, now, deadline time.Time, limit int, accountID *string) ([]model.ScheduledJob, error)
	// Finalize moves an open job to a terminal status. It returns nil with
	// no error when the job was already finalized, which makes duplicate
	// outcome reports harmless.
	Finalize(ctx context.Context, id string, status model.JobStatus, errClass, errMsg *string, now time.Time) (*model.ScheduledJob, error)
	// FindOverdue returns open jobs whose deadline has passed.
	FindOverdue(ctx context.Context, now time.Time) ([]model.ScheduledJob, error)
	List(ctx context.Context, filter model.JobFilter) ([]model.ScheduledJob, error)
	// OutcomeStats aggregates terminal outcomes per action since the cutoff.
	// Jobs that expired unclaimed never reached the platform and are left
	// out of the failure counts.
	OutcomeStats(ctx context.Context, accountID string, since time.Time) ([]model.OutcomeStats, error)
	// ErrorPatterns groups failed jobs since the cutoff by action type,
	// subreddit, and error class.
	ErrorPatterns(ctx context.Context, since time.Time) ([]model.ErrorPattern, error)
	DeleteFinalizedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) JobRepository
}

type jobRepo struct {
	db sqlxDB
}

func NewJobRepository(db *sqlx.DB) JobRepository {
	return &jobRepo{db: db}
}

func (r *jobRepo) WithTx(tx *sqlx.Tx) JobRepository {
	return &jobRepo{db: tx}
}

func (r *jobRepo) Create(ctx context.Context, params model.CreateJobParams) (*model.ScheduledJob, error) {
	var job model.ScheduledJob
	err := r.db.GetContext(ctx, &job, `
		INSERT INTO scheduled_jobs (id, account_id, action_type, subreddit, target_ref, status, due_at, deadline_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)
		RETURNING *
	`, params.ID, params.AccountID, params.Action, params.Subreddit, params.TargetRef,
		params.DueAt, params.DeadlineAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) FindByID(ctx context.Context, id string) (*model.ScheduledJob, error) {
	var job model.ScheduledJob
	err := r.db.GetContext(ctx, &job, `
		SELECT * FROM scheduled_jobs WHERE id = $1
	`, id)
	return HandleNotFound(&job, err)
}

func (r *jobRepo) FindOpen(ctx context.Context) ([]model.ScheduledJob, error) {
	var jobs []model.ScheduledJob
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM scheduled_jobs
		WHERE status IN ('pending', 'dispatched')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) ClaimDue(ctx context.Context, now, deadline time.Time, limit int, accountID *string) ([]model.ScheduledJob, error) {
	var jobs []model.ScheduledJob
	var err error
	if accountID != nil {
		err = r.db.SelectContext(ctx, &jobs, `
			UPDATE scheduled_jobs SET
				status = 'dispatched',
				dispatched_at = $1,
				deadline_at = $2
			WHERE id IN (
				SELECT id FROM scheduled_jobs
				WHERE status = 'pending' AND due_at <= $1 AND account_id = $4
				ORDER BY due_at ASC
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *
		`, now, deadline, limit, *accountID)
	} else {
		err = r.db.SelectContext(ctx, &jobs, `
			UPDATE scheduled_jobs SET
				status = 'dispatched',
				dispatched_at = $1,
				deadline_at = $2
			WHERE id IN (
				SELECT id FROM scheduled_jobs
				WHERE status = 'pending' AND due_at <= $1
				ORDER BY due_at ASC
				LIMIT $3
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *
		`, now, deadline, limit)
	}
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) Finalize(ctx context.Context, id string, status model.JobStatus, errClass, errMsg *string, now time.Time) (*model.ScheduledJob, error) {
	var job model.ScheduledJob
	err := r.db.GetContext(ctx, &job, `
		UPDATE scheduled_jobs SET
			status = $2,
			error_class = $3,
			error_message = $4,
			finalized_at = $5
		WHERE id = $1 AND status IN ('pending', 'dispatched')
		RETURNING *
	`, id, status, errClass, errMsg, now)
	return HandleNotFound(&job, err)
}

func (r *jobRepo) FindOverdue(ctx context.Context, now time.Time) ([]model.ScheduledJob, error) {
	var jobs []model.ScheduledJob
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM scheduled_jobs
		WHERE status IN ('pending', 'dispatched') AND deadline_at <= $1
		ORDER BY deadline_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) List(ctx context.Context, filter model.JobFilter) ([]model.ScheduledJob, error) {
	query := `
		SELECT * FROM scheduled_jobs
		WHERE ($1::text IS NULL OR account_id = $1)
		  AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	var jobs []model.ScheduledJob
	err := r.db.SelectContext(ctx, &jobs, query, filter.AccountID, (*string)(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) OutcomeStats(ctx context.Context, accountID string, since time.Time) ([]model.OutcomeStats, error) {
	var stats []model.OutcomeStats
	err := r.db.SelectContext(ctx, &stats, `
		SELECT action_type,
			COUNT(*) FILTER (WHERE status = 'succeeded') AS succeeded,
			COUNT(*) FILTER (WHERE status = 'failed' AND COALESCE(error_class, '') <> 'expired') AS failed
		FROM scheduled_jobs
		WHERE account_id = $1 AND status IN ('succeeded', 'failed') AND finalized_at >= $2
		GROUP BY action_type
	`, accountID, since)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *jobRepo) ErrorPatterns(ctx context.Context, since time.Time) ([]model.ErrorPattern, error) {
	var patterns []model.ErrorPattern
	err := r.db.SelectContext(ctx, &patterns, `
		SELECT action_type, subreddit,
			COALESCE(error_class, 'unknown') AS error_class,
			COUNT(*) AS count,
			MIN(finalized_at) AS first_seen,
			MAX(finalized_at) AS last_seen,
			MAX(COALESCE(error_message, '')) AS sample_message
		FROM scheduled_jobs
		WHERE status = 'failed' AND finalized_at >= $1
		GROUP BY action_type, subreddit, COALESCE(error_class, 'unknown')
		ORDER BY count DESC, action_type ASC, subreddit ASC
	`, since)
	if err != nil {
		return nil, err
	}
	return patterns, nil
}

func (r *jobRepo) DeleteFinalizedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM scheduled_jobs
		WHERE status IN ('succeeded', 'failed') AND finalized_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
