package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/karmaloop/automation-server-go/internal/audit"
	"github.com/karmaloop/automation-server-go/internal/model"
	"github.com/karmaloop/automation-server-go/internal/repository"
)

// Config aggregates the per-component settings. The caller maps its own
// configuration onto this; the engine never reads the environment.
type Config struct {
	Breaker   BreakerConfig
	Monitor   MonitorConfig
	Scheduler SchedulerConfig
	Optimizer OptimizerConfig
	Analyzer  AnalyzerConfig
	Pace      PaceConfig
}

// Engine wires the scheduling and safety components together and exposes
// the trigger entry points the runner fires on its cadences.
type Engine struct {
	Scheduler *Scheduler
	Monitor   *Monitor
	Optimizer *Optimizer
	Analyzer  *Analyzer
	Breakers  *BreakerRegistry
	Quota     QuotaStore

	alerts repository.AlertRepository
	log    zerolog.Logger
}

func New(
	cfg Config,
	accounts repository.AccountRepository,
	jobs repository.JobRepository,
	health repository.HealthRepository,
	alerts repository.AlertRepository,
	quota QuotaStore,
	source HealthSource,
	publisher Publisher,
	logger zerolog.Logger,
) *Engine {
	e := &Engine{
		Quota:  quota,
		alerts: alerts,
		log:    logger.With().Str("component", "engine").Logger(),
	}

	e.Breakers = NewBreakerRegistry(cfg.Breaker, e.onBreakerTransition, logger)
	e.Monitor = NewMonitor(cfg.Monitor, accounts, health, alerts, source, logger)
	e.Scheduler = NewScheduler(cfg.Scheduler, accounts, jobs, quota, e.Breakers, NewPacer(cfg.Pace), e.Monitor, publisher, logger)
	e.Optimizer = NewOptimizer(cfg.Optimizer, accounts, jobs, logger)
	e.Analyzer = NewAnalyzer(cfg.Analyzer, accounts, jobs, health, alerts, quota, e.Breakers, logger)
	return e
}

// Start performs one-time warmup; currently that is seeding the in-flight
// guard from open jobs so a restart cannot double-schedule.
func (e *Engine) Start(ctx context.Context) error {
	return e.Scheduler.SeedGuard(ctx)
}

// onBreakerTransition maintains breaker alerts. Transitions fire from
// scheduler admission paths that hold per-key locks, so database work is
// pushed to a short-lived goroutine.
func (e *Engine) onBreakerTransition(key model.ActionKey, from, to model.BreakerState, cooldown time.Duration) {
	switch to {
	case model.BreakerOpen:
		go e.raiseBreakerAlert(key, cooldown)
	case model.BreakerClosed:
		go e.resolveBreakerAlert(key)
	}
}

func (e *Engine) raiseBreakerAlert(key model.ActionKey, cooldown time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audit.Log(ctx, audit.Event{
		Type:      audit.EventBreakerOpen,
		AccountID: key.AccountID,
		Action:    string(key.Action),
		Details:   map[string]interface{}{"cooldown_seconds": int64(cooldown.Seconds())},
	})

	fingerprint := key.String()
	existing, err := e.alerts.FindUnresolvedByFingerprint(ctx, model.AlertBreakerOpen, fingerprint)
	if err != nil {
		e.log.Error().Err(err).Str("key", fingerprint).Msg("breaker alert lookup failed")
		return
	}
	if existing != nil {
		return
	}
	_, err = e.alerts.Create(ctx, model.CreateAlertParams{
		ID:          uuid.NewString(),
		AccountID:   &key.AccountID,
		Kind:        model.AlertBreakerOpen,
		Severity:    model.SeverityWarning,
		Message:     fmt.Sprintf("circuit breaker open for %s, cooling down %s", fingerprint, cooldown),
		Fingerprint: &fingerprint,
	})
	if err != nil {
		e.log.Error().Err(err).Str("key", fingerprint).Msg("breaker alert create failed")
		return
	}
	alertRaisedCount.WithLabelValues(string(model.AlertBreakerOpen), string(model.SeverityWarning)).Inc()
}

func (e *Engine) resolveBreakerAlert(key model.ActionKey) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audit.Log(ctx, audit.Event{
		Type:      audit.EventBreakerClose,
		AccountID: key.AccountID,
		Action:    string(key.Action),
	})
	if _, err := e.alerts.ResolveByFingerprint(ctx, model.AlertBreakerOpen, key.String(), time.Now().UTC()); err != nil {
		e.log.Error().Err(err).Str("key", key.String()).Msg("breaker alert resolve failed")
	}
}

// Trigger entry points. The runner calls these on their cadences; each
// stamps its own clock so triggers stay argument-free.

func (e *Engine) Tick(ctx context.Context) error {
	_, err := e.Scheduler.Tick(ctx, time.Now().UTC())
	return err
}

func (e *Engine) ExpireOverdue(ctx context.Context) error {
	_, err := e.Scheduler.ExpireOverdue(ctx, time.Now().UTC())
	return err
}

func (e *Engine) AuditAccounts(ctx context.Context) error {
	return e.Monitor.AuditAll(ctx, time.Now().UTC())
}

func (e *Engine) RefreshHealth(ctx context.Context) error {
	return e.Monitor.RefreshAll(ctx, time.Now().UTC())
}

func (e *Engine) SweepBreakers(ctx context.Context) error {
	moved := e.Breakers.Sweep(time.Now().UTC())
	if moved > 0 {
		e.log.Info().Int("halfOpened", moved).Msg("breaker sweep complete")
	}
	return nil
}

// ResetQuotas drops counters from previous days. Under the UTC day key a
// new day naturally starts from zero; this only reclaims memory or Redis
// keys left behind by the old day.
func (e *Engine) ResetQuotas(ctx context.Context) error {
	now := time.Now().UTC()
	if err := e.Quota.ResetDay(ctx, DayKey(now)); err != nil {
		return err
	}
	audit.Log(ctx, audit.Event{
		Type:    audit.EventQuotaReset,
		Details: map[string]interface{}{"day": DayKey(now)},
	})
	return nil
}

func (e *Engine) Optimize(ctx context.Context) error {
	return e.Optimizer.OptimizeAll(ctx, time.Now().UTC())
}

func (e *Engine) AnalyzeErrors(ctx context.Context) error {
	_, err := e.Analyzer.AnalyzeErrors(ctx, time.Now().UTC())
	return err
}

// DailySafetyReport generates the report and logs its headline numbers.
// The HTTP surface serves the full document on demand.
func (e *Engine) DailySafetyReport(ctx context.Context) error {
	report, err := e.Analyzer.GenerateSafetyReport(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	e.log.Info().
		Int("accounts", report.TotalAccounts).
		Int("suspended", report.SuspendedCount).
		Int("shadowbanned", report.ShadowbannedCount).
		Int("openBreakers", report.OpenBreakerCount).
		Int("unresolvedAlerts", report.UnresolvedAlerts).
		Msg("daily safety report")
	return nil
}

func (e *Engine) Cleanup(ctx context.Context) error {
	return e.Analyzer.CleanupAll(ctx, time.Now().UTC())
}
