package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/karmaloop/automation-server-go/internal/errors"
	"github.com/karmaloop/automation-server-go/internal/model"
	"github.com/karmaloop/automation-server-go/internal/repository"
)

type AnalyzerConfig struct {
	// Period is the lookback for the recurring error scan.
	Period time.Duration
	// PatternAlertThreshold is the occurrence count at which a failure
	// pattern raises an alert.
	PatternAlertThreshold int
	TrustFloor            float64
	TrustWarnBelow        float64
	Penalties             TrustPenalties
	JobRetention          time.Duration
	AlertRetention        time.Duration
	SnapshotRetention     time.Duration
}

// Analyzer aggregates outcomes across the fleet: recurring error patterns,
// the daily safety report, and retention cleanup of old rows.
type Analyzer struct {
	cfg      AnalyzerConfig
	accounts repository.AccountRepository
	jobs     repository.JobRepository
	health   repository.HealthRepository
	alerts   repository.AlertRepository
	quota    QuotaStore
	breakers *BreakerRegistry
	log      zerolog.Logger
}

func NewAnalyzer(
	cfg AnalyzerConfig,
	accounts repository.AccountRepository,
	jobs repository.JobRepository,
	health repository.HealthRepository,
	alerts repository.AlertRepository,
	quota QuotaStore,
	breakers *BreakerRegistry,
	logger zerolog.Logger,
) *Analyzer {
	return &Analyzer{
		cfg:      cfg,
		accounts: accounts,
		jobs:     jobs,
		health:   health,
		alerts:   alerts,
		quota:    quota,
		breakers: breakers,
		log:      logger.With().Str("component", "analyzer").Logger(),
	}
}

// ErrorPatterns returns failure groupings since the cutoff without side
// effects, each stamped with its taxonomy kind. The analytics endpoint
// serves this directly.
func (a *Analyzer) ErrorPatterns(ctx context.Context, since time.Time) ([]model.ErrorPattern, error) {
	patterns, err := a.jobs.ErrorPatterns(ctx, since)
	if err != nil {
		return nil, err
	}
	for i := range patterns {
		patterns[i].Kind = apperrors.ClassifyClass(patterns[i].ErrorClass).String()
	}
	return patterns, nil
}

// AnalyzeErrors scans the lookback period for recurring failure patterns
// and raises one warning alert per pattern that crosses the threshold.
// Alerts dedupe on a pattern fingerprint, so a pattern that stays hot does
// not re-alert until its previous alert is resolved.
func (a *Analyzer) AnalyzeErrors(ctx context.Context, now time.Time) (int, error) {
	patterns, err := a.ErrorPatterns(ctx, now.Add(-a.cfg.Period))
	if err != nil {
		return 0, fmt.Errorf("analyze errors: %w", err)
	}

	raised := 0
	for _, p := range patterns {
		if p.Count < a.cfg.PatternAlertThreshold {
			continue
		}
		fingerprint := fmt.Sprintf("%s|%s|%s", p.Action, p.Subreddit, p.ErrorClass)
		existing, err := a.alerts.FindUnresolvedByFingerprint(ctx, model.AlertFailurePattern, fingerprint)
		if err != nil {
			a.log.Error().Err(err).Str("fingerprint", fingerprint).Msg("pattern dedupe lookup failed")
			continue
		}
		if existing != nil {
			continue
		}

		_, err = a.alerts.Create(ctx, model.CreateAlertParams{
			ID:          uuid.NewString(),
			Kind:        model.AlertFailurePattern,
			Severity:    model.SeverityWarning,
			Message:     patternMessage(p),
			Fingerprint: &fingerprint,
		})
		if err != nil {
			a.log.Error().Err(err).Str("fingerprint", fingerprint).Msg("pattern alert create failed")
			continue
		}
		alertRaisedCount.WithLabelValues(string(model.AlertFailurePattern), string(model.SeverityWarning)).Inc()
		raised++
	}

	a.log.Info().Int("patterns", len(patterns)).Int("alertsRaised", raised).Msg("error analysis complete")
	return raised, nil
}

func patternMessage(p model.ErrorPattern) string {
	where := p.Subreddit
	if where == "" {
		where = "(no subreddit)"
	}
	return fmt.Sprintf("%d %s failures in %s classed %s since %s",
		p.Count, p.Action, where, p.ErrorClass, p.FirstSeen.UTC().Format(time.RFC3339))
}

// GenerateSafetyReport assembles the fleet-wide safety picture: per-account
// trust, today's quota usage, and open breakers, plus fleet totals.
func (a *Analyzer) GenerateSafetyReport(ctx context.Context, now time.Time) (*model.SafetyReport, error) {
	latest, err := a.health.LatestAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("safety report: %w", err)
	}
	latestByAccount := make(map[string]*model.HealthSnapshot, len(latest))
	for i := range latest {
		latestByAccount[latest[i].AccountID] = &latest[i]
	}

	breakersByAccount := make(map[string][]model.BreakerSnapshot)
	openBreakers := 0
	for _, snap := range a.breakers.Snapshot() {
		if snap.State == model.BreakerClosed {
			continue
		}
		breakersByAccount[snap.Key.AccountID] = append(breakersByAccount[snap.Key.AccountID], snap)
		openBreakers++
	}

	unresolved, err := a.alerts.CountUnresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("safety report: %w", err)
	}

	report := &model.SafetyReport{
		GeneratedAt:      now.UTC(),
		Accounts:         []model.AccountSafety{},
		OpenBreakerCount: openBreakers,
		UnresolvedAlerts: unresolved,
	}

	day := DayKey(now)
	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		accounts, err := a.accounts.FindAll(ctx, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("safety report: %w", err)
		}
		for i := range accounts {
			account := &accounts[i]
			entry, err := a.accountSafety(ctx, account, latestByAccount[account.ID], breakersByAccount[account.ID], day)
			if err != nil {
				return nil, err
			}
			report.Accounts = append(report.Accounts, entry)
			report.TotalAccounts++
			if entry.Suspended {
				report.SuspendedCount++
			}
			if entry.Shadowbanned {
				report.ShadowbannedCount++
			}
		}
		if len(accounts) < pageSize {
			break
		}
	}

	return report, nil
}

func (a *Analyzer) accountSafety(ctx context.Context, account *model.Account, snap *model.HealthSnapshot, breakers []model.BreakerSnapshot, day string) (model.AccountSafety, error) {
	score := ComputeTrustScore(snap, a.cfg.Penalties)
	shadowbanned := snap != nil && snap.Shadowbanned

	status := model.HealthStatusHealthy
	switch {
	case shadowbanned:
		status = model.HealthStatusShadowbanned
	case score < a.cfg.TrustFloor:
		status = model.HealthStatusCritical
	case score < a.cfg.TrustWarnBelow:
		status = model.HealthStatusWarning
	}

	usage := make(map[model.ActionType]int, len(model.ActionTypes))
	for _, action := range model.ActionTypes {
		n, err := a.quota.Usage(ctx, model.ActionKey{AccountID: account.ID, Action: action}, day)
		if err != nil {
			return model.AccountSafety{}, fmt.Errorf("quota usage for %s/%s: %w", account.ID, action, err)
		}
		usage[action] = n
	}

	return model.AccountSafety{
		AccountID:    account.ID,
		Username:     account.Username,
		TrustScore:   score,
		Status:       status,
		Suspended:    account.Suspended,
		Shadowbanned: shadowbanned,
		UsageToday:   usage,
		OpenBreakers: breakers,
	}, nil
}

// AccountStatus is the single-account view of the safety report.
func (a *Analyzer) AccountStatus(ctx context.Context, accountID string, now time.Time) (*model.AccountSafety, error) {
	account, err := a.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}

	snap, err := a.health.LatestByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var breakers []model.BreakerSnapshot
	for _, b := range a.breakers.Snapshot() {
		if b.Key.AccountID == accountID && b.State != model.BreakerClosed {
			breakers = append(breakers, b)
		}
	}

	entry, err := a.accountSafety(ctx, account, snap, breakers, DayKey(now))
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// CleanupAll applies the retention policy: terminal jobs, resolved alerts,
// and health snapshots older than their windows are removed.
func (a *Analyzer) CleanupAll(ctx context.Context, now time.Time) error {
	var errs []error

	jobs, err := a.jobs.DeleteFinalizedBefore(ctx, now.Add(-a.cfg.JobRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purge jobs: %w", err))
	} else if jobs > 0 {
		a.log.Info().Int64("deleted", jobs).Msg("purged old jobs")
	}

	alerts, err := a.alerts.DeleteResolvedBefore(ctx, now.Add(-a.cfg.AlertRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purge alerts: %w", err))
	} else if alerts > 0 {
		a.log.Info().Int64("deleted", alerts).Msg("purged resolved alerts")
	}

	snaps, err := a.health.DeleteBefore(ctx, now.Add(-a.cfg.SnapshotRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purge snapshots: %w", err))
	} else if snaps > 0 {
		a.log.Info().Int64("deleted", snaps).Msg("purged old health snapshots")
	}

	return errors.Join(errs...)
}
