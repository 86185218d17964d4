package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/karmaloop/automation-server-go/internal/audit"
	"github.com/karmaloop/automation-server-go/internal/config"
	apperrors "github.com/karmaloop/automation-server-go/internal/errors"
	"github.com/karmaloop/automation-server-go/internal/model"
	"github.com/karmaloop/automation-server-go/internal/repository"
)

// Publisher delivers newly scheduled jobs to push-based executors. Publish
// failures are logged and swallowed; jobs stay claimable over HTTP.
type Publisher interface {
	PublishJob(ctx context.Context, job *model.ScheduledJob) error
}

// MultiPublisher fans a job out to several publishers and returns the first
// error after trying all of them.
type MultiPublisher []Publisher

func (m MultiPublisher) PublishJob(ctx context.Context, job *model.ScheduledJob) error {
	var firstErr error
	for _, p := range m {
		if err := p.PublishJob(ctx, job); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// keyState serializes admission for one (account, action) key and tracks
// its single open job plus any retry-after hold from the last outcome.
type keyState struct {
	mu        sync.Mutex
	openJobID string
	holdUntil time.Time
}

type admissionGuard struct {
	mu     sync.Mutex
	states map[model.ActionKey]*keyState
}

func newAdmissionGuard() *admissionGuard {
	return &admissionGuard{states: make(map[model.ActionKey]*keyState)}
}

func (g *admissionGuard) state(key model.ActionKey) *keyState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.states[key]
	if st == nil {
		st = &keyState{}
		g.states[key] = st
	}
	return st
}

type SchedulerConfig struct {
	JobDeadline time.Duration
	TrustFloor  float64
}

// Scheduler runs the periodic tick that decides, per (account, action) key,
// whether to schedule one job, and owns the job lifecycle around it.
type Scheduler struct {
	cfg       SchedulerConfig
	accounts  repository.AccountRepository
	jobs      repository.JobRepository
	quota     QuotaStore
	breakers  *BreakerRegistry
	pacer     *Pacer
	monitor   *Monitor
	publisher Publisher
	guard     *admissionGuard
	log       zerolog.Logger
}

func NewScheduler(
	cfg SchedulerConfig,
	accounts repository.AccountRepository,
	jobs repository.JobRepository,
	quota QuotaStore,
	breakers *BreakerRegistry,
	pacer *Pacer,
	monitor *Monitor,
	publisher Publisher,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		accounts:  accounts,
		jobs:      jobs,
		quota:     quota,
		breakers:  breakers,
		pacer:     pacer,
		monitor:   monitor,
		publisher: publisher,
		guard:     newAdmissionGuard(),
		log:       logger.With().Str("component", "scheduler").Logger(),
	}
}

// SeedGuard loads open jobs into the in-flight guard. Called once at
// startup so a restart cannot double-schedule keys with open jobs.
func (s *Scheduler) SeedGuard(ctx context.Context) error {
	open, err := s.jobs.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("seed guard: %w", err)
	}
	for i := range open {
		st := s.guard.state(open[i].Key())
		st.mu.Lock()
		st.openJobID = open[i].ID
		st.mu.Unlock()
	}
	s.log.Info().Int("openJobs", len(open)).Msg("admission guard seeded")
	return nil
}

// Tick walks every schedulable account in id order and every action in
// fixed priority order, schedules at most one job per key, and returns
// the jobs it scheduled. A failure on one key never stops the sweep.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]model.ScheduledJob, error) {
	start := time.Now()
	defer func() {
		tickDuration.Observe(time.Since(start).Seconds())
	}()

	accounts, err := s.accounts.FindSchedulable(ctx)
	if err != nil {
		return nil, fmt.Errorf("tick: %w", err)
	}

	var scheduled []model.ScheduledJob
	for i := range accounts {
		account := &accounts[i]

		trust, err := s.monitor.TrustScore(ctx, account.ID)
		if err != nil {
			s.log.Error().Err(err).Str("accountId", account.ID).Msg("trust lookup failed, skipping account")
			continue
		}

		for _, action := range model.ActionTypes {
			if !account.ActionEnabled(action) {
				continue
			}
			job, err := s.admit(ctx, account, action, trust, now)
			if err != nil {
				s.log.Error().Err(err).
					Str("accountId", account.ID).
					Str("action", string(action)).
					Msg("admission failed")
				continue
			}
			if job == nil {
				continue
			}
			scheduled = append(scheduled, *job)
			if s.publisher != nil {
				if err := s.publisher.PublishJob(ctx, job); err != nil {
					s.log.Error().Err(err).Str("jobId", job.ID).Msg("publish failed, job stays claimable")
				}
			}
		}
	}

	s.log.Debug().Int("accounts", len(accounts)).Int("scheduled", len(scheduled)).Msg("tick complete")
	return scheduled, nil
}

func (s *Scheduler) decide(action model.ActionType, result string) {
	admissionDecisionCount.WithLabelValues(string(action), result).Inc()
}

// admit runs the gate sequence for one key and creates a job when every
// gate passes. The quota reservation is the point of no return: once it is
// granted, any later failure burns the unit rather than refunding it.
func (s *Scheduler) admit(ctx context.Context, account *model.Account, action model.ActionType, trust float64, now time.Time) (*model.ScheduledJob, error) {
	key := model.ActionKey{AccountID: account.ID, Action: action}
	st := s.guard.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.openJobID != "" {
		s.decide(action, "in_flight")
		return nil, nil
	}
	if now.Before(st.holdUntil) {
		s.decide(action, "backoff")
		return nil, nil
	}
	if !account.InWindow(action, now) {
		s.decide(action, "window_closed")
		return nil, nil
	}
	if trust < s.cfg.TrustFloor {
		s.decide(action, "low_trust")
		return nil, nil
	}
	if !s.breakers.Admit(key, now) {
		s.decide(action, "breaker_open")
		return nil, nil
	}
	if !s.pacer.Allow(key) {
		s.breakers.CancelProbe(key)
		s.decide(action, "paced")
		return nil, nil
	}

	maxDaily := account.EffectiveMaxDaily(action)
	granted, remaining, err := s.quota.TryReserve(ctx, key, DayKey(now), maxDaily)
	if err != nil {
		s.breakers.CancelProbe(key)
		quotaReservationCount.WithLabelValues(string(action), "error").Inc()
		return nil, fmt.Errorf("quota reserve: %w", err)
	}
	if !granted {
		s.breakers.CancelProbe(key)
		quotaReservationCount.WithLabelValues(string(action), "denied").Inc()
		s.decide(action, "quota_exhausted")
		return nil, nil
	}
	quotaReservationCount.WithLabelValues(string(action), "granted").Inc()

	job, err := s.jobs.Create(ctx, model.CreateJobParams{
		ID:         uuid.NewString(),
		AccountID:  account.ID,
		Action:     action,
		Subreddit:  pickSubreddit(account.Subreddits, maxDaily-remaining),
		DueAt:      now,
		DeadlineAt: now.Add(s.cfg.JobDeadline),
	})
	if err != nil {
		// The reserved unit stays burned. Losing a slot is safer than
		// risking an over-quota double schedule on retry.
		s.breakers.CancelProbe(key)
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.breakers.BindProbe(key, job.ID)
	st.openJobID = job.ID

	s.decide(action, "granted")
	jobScheduledCount.WithLabelValues(string(action)).Inc()
	s.log.Info().
		Str("jobId", job.ID).
		Str("accountId", account.ID).
		Str("action", string(action)).
		Str("subreddit", job.Subreddit).
		Int("quotaRemaining", remaining).
		Msg("job scheduled")
	return job, nil
}

// pickSubreddit rotates through the account's subreddits with the day's
// usage count, so a day's jobs spread across the list instead of hammering
// the first entry.
func pickSubreddit(subreddits []string, used int) string {
	if len(subreddits) == 0 {
		return ""
	}
	idx := (used - 1) % len(subreddits)
	if idx < 0 {
		idx = 0
	}
	return subreddits[idx]
}

// Claim hands due pending jobs to an executor, marking them dispatched.
func (s *Scheduler) Claim(ctx context.Context, limit int, accountID *string, now time.Time) ([]model.ScheduledJob, error) {
	if limit <= 0 {
		limit = config.DefaultClaimLimit
	}
	if limit > config.MaxClaimLimit {
		limit = config.MaxClaimLimit
	}

	if accountID != nil {
		account, err := s.accounts.FindByID(ctx, *accountID)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, apperrors.NotFound("Account")
		}
		if account.Suspended {
			reason := ""
			if account.SuspendedReason != nil {
				reason = *account.SuspendedReason
			}
			return nil, apperrors.AccountSuspended(account.ID, reason)
		}
	}

	claimed, err := s.jobs.ClaimDue(ctx, now, now.Add(s.cfg.JobDeadline), limit, accountID)
	if err != nil {
		return nil, fmt.Errorf("claim due: %w", err)
	}
	return claimed, nil
}

// ReportOutcome finalizes a dispatched job from an executor report. Reports
// are idempotent per job id: a duplicate returns the already-final job and
// changes neither counters nor breaker state. A transient failure carrying
// a retry hint holds the key's admissions until the hint elapses.
func (s *Scheduler) ReportOutcome(ctx context.Context, jobID string, outcome model.JobOutcome, now time.Time) (*model.ScheduledJob, error) {
	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	if job == nil {
		return nil, apperrors.NotFound("Job")
	}

	key := job.Key()
	st := s.guard.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	status := model.JobStatusSucceeded
	var errClass, errMsg *string
	var actionErr *apperrors.ActionError
	if !outcome.Success {
		status = model.JobStatusFailed
		if outcome.ErrorClass != "" {
			errClass = &outcome.ErrorClass
		}
		if outcome.ErrorMessage != "" {
			errMsg = &outcome.ErrorMessage
		}
		actionErr = apperrors.ActionFromClass(outcome.ErrorClass, outcome.ErrorMessage, outcome.RetryAfter)
	}

	final, err := s.jobs.Finalize(ctx, jobID, status, errClass, errMsg, now)
	if err != nil {
		return nil, fmt.Errorf("finalize job: %w", err)
	}
	if final == nil {
		// Already terminal; the first report won.
		return job, nil
	}

	if st.openJobID == jobID {
		st.openJobID = ""
	}
	s.breakers.ReportOutcome(key, jobID, outcome.Success, now)
	if actionErr != nil && actionErr.Temporary() && actionErr.RetryAfter > 0 {
		// The platform told us when to come back; scheduling sooner would
		// burn quota on guaranteed rejections.
		st.holdUntil = now.Add(actionErr.RetryAfter)
	}

	result := "succeeded"
	if !outcome.Success {
		result = "failed"
	}
	jobOutcomeCount.WithLabelValues(string(job.Action), result).Inc()
	event := s.log.Info().
		Str("jobId", jobID).
		Str("accountId", job.AccountID).
		Str("action", string(job.Action)).
		Bool("success", outcome.Success)
	if actionErr != nil {
		event = event.
			Str("errorClass", actionErr.Class).
			Str("errorKind", actionErr.Kind.String())
		if actionErr.RetryAfter > 0 {
			event = event.Dur("retryAfter", actionErr.RetryAfter)
		}
	}
	event.Msg("job outcome recorded")
	return final, nil
}

// ExpireOverdue fails open jobs whose deadline has passed. A dispatched job
// counts against the breaker as a timeout, since the executor took it and
// went silent. A job nobody ever claimed expires without breaker impact;
// the platform never saw an attempt, so a probe slot it held is released
// rather than consumed.
func (s *Scheduler) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.jobs.FindOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find overdue: %w", err)
	}

	expired := 0
	for i := range overdue {
		job := &overdue[i]

		class := apperrors.ClassExpired
		msg := "job expired before being claimed"
		counted := false
		if job.Status == model.JobStatusDispatched {
			class = apperrors.ClassTimeout
			msg = "executor missed the job deadline"
			counted = true
		}

		key := job.Key()
		st := s.guard.state(key)
		st.mu.Lock()
		final, err := s.jobs.Finalize(ctx, job.ID, model.JobStatusFailed, &class, &msg, now)
		if err != nil {
			st.mu.Unlock()
			s.log.Error().Err(err).Str("jobId", job.ID).Msg("expire failed")
			continue
		}
		if final == nil {
			// An outcome report raced us and won.
			st.mu.Unlock()
			continue
		}
		if st.openJobID == job.ID {
			st.openJobID = ""
		}
		if counted {
			s.breakers.ReportOutcome(key, job.ID, false, now)
		} else {
			s.breakers.ReleaseProbe(key, job.ID)
		}
		st.mu.Unlock()

		expired++
		jobOutcomeCount.WithLabelValues(string(job.Action), class).Inc()
		audit.Log(ctx, audit.Event{
			Type:      audit.EventJobExpired,
			AccountID: job.AccountID,
			Action:    string(job.Action),
			JobID:     job.ID,
			Details:   map[string]interface{}{"error_class": class, "was_dispatched": counted},
		})
	}

	if expired > 0 {
		s.log.Info().Int("expired", expired).Msg("overdue jobs expired")
	}
	return expired, nil
}
