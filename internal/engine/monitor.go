package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/karmaloop/automation-server-go/internal/audit"
	apperrors "github.com/karmaloop/automation-server-go/internal/errors"
	"github.com/karmaloop/automation-server-go/internal/model"
	"github.com/karmaloop/automation-server-go/internal/repository"
)

// HealthSource fetches live health telemetry for an account. Deployments
// that only push snapshots through the HTTP API leave it nil.
type HealthSource interface {
	FetchHealth(ctx context.Context, accountID string) (model.HealthInput, error)
}

type TrustPenalties struct {
	Ban      float64
	Deletion float64
	Removal  float64
}

// NeutralTrustScore is assumed for accounts with no health snapshot yet.
const NeutralTrustScore = 0.5

// ComputeTrustScore derives a trust score from a single health snapshot.
// Penalties compound multiplicatively per event; a shadowbanned account
// scores zero regardless of anything else.
func ComputeTrustScore(snap *model.HealthSnapshot, p TrustPenalties) float64 {
	if snap == nil {
		return NeutralTrustScore
	}
	if snap.Shadowbanned {
		return 0
	}
	score := 1.0
	score *= math.Pow(1-p.Ban, float64(snap.BanEvents))
	score *= math.Pow(1-p.Removal, float64(snap.RemovedContentCount))
	score *= math.Pow(1-p.Deletion, float64(snap.DeletedContentCount))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

type MonitorConfig struct {
	TrustFloor float64
	Penalties  TrustPenalties
	CacheTTL   time.Duration
	CacheSize  int
}

// Monitor tracks account health, derives trust scores, and suspends or
// resumes automation based on them.
type Monitor struct {
	cfg      MonitorConfig
	accounts repository.AccountRepository
	health   repository.HealthRepository
	alerts   repository.AlertRepository
	source   HealthSource
	cache    *expirable.LRU[string, model.HealthSnapshot]
	log      zerolog.Logger
}

func NewMonitor(
	cfg MonitorConfig,
	accounts repository.AccountRepository,
	health repository.HealthRepository,
	alerts repository.AlertRepository,
	source HealthSource,
	logger zerolog.Logger,
) *Monitor {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	return &Monitor{
		cfg:      cfg,
		accounts: accounts,
		health:   health,
		alerts:   alerts,
		source:   source,
		cache:    expirable.NewLRU[string, model.HealthSnapshot](size, nil, cfg.CacheTTL),
		log:      logger.With().Str("component", "monitor").Logger(),
	}
}

// RecordHealth persists a pushed health snapshot and re-audits the account
// against it. Snapshots are immutable; each push appends a new row.
func (m *Monitor) RecordHealth(ctx context.Context, accountID string, input model.HealthInput, now time.Time) (*model.HealthSnapshot, error) {
	account, err := m.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}

	snap, err := m.health.Insert(ctx, model.CreateSnapshotParams{
		ID:         uuid.NewString(),
		AccountID:  account.ID,
		Input:      input,
		CapturedAt: now.UTC(),
	})
	if err != nil {
		return nil, err
	}
	m.cache.Add(account.ID, *snap)

	if err := m.Audit(ctx, account, snap, now); err != nil {
		return nil, err
	}
	return snap, nil
}

// TrustScore returns the current trust score for an account, consulting the
// snapshot cache before the database.
func (m *Monitor) TrustScore(ctx context.Context, accountID string) (float64, error) {
	snap, err := m.latest(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return ComputeTrustScore(snap, m.cfg.Penalties), nil
}

func (m *Monitor) latest(ctx context.Context, accountID string) (*model.HealthSnapshot, error) {
	if snap, ok := m.cache.Get(accountID); ok {
		return &snap, nil
	}
	snap, err := m.health.LatestByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		m.cache.Add(accountID, *snap)
	}
	return snap, nil
}

// Audit checks one account's trust against the floor. Accounts below the
// floor (or shadowbanned) are suspended with a single unresolved high alert;
// suspended accounts whose score recovered are resumed and the alert
// resolved. Recovery demands a live snapshot: with no history the neutral
// default score is not evidence, and the suspension stands until fresh
// counters arrive. Operator-suspended accounts are left alone.
func (m *Monitor) Audit(ctx context.Context, account *model.Account, snap *model.HealthSnapshot, now time.Time) error {
	score := ComputeTrustScore(snap, m.cfg.Penalties)
	shadowbanned := snap != nil && snap.Shadowbanned
	unsafe := shadowbanned || score < m.cfg.TrustFloor

	switch {
	case unsafe && !account.Suspended:
		reason := fmt.Sprintf("trust score %.2f below floor %.2f", score, m.cfg.TrustFloor)
		if shadowbanned {
			reason = "account is shadowbanned"
		}
		src := model.SuspendSourceMonitor
		if _, err := m.accounts.SetSuspended(ctx, account.ID, true, &reason, &src, now); err != nil {
			return err
		}
		account.Suspended = true
		account.SuspendedReason = &reason
		account.SuspendedSource = &src
		suspensionCount.WithLabelValues(suspendReason(shadowbanned)).Inc()
		audit.Log(ctx, audit.Event{
			Type:      audit.EventAutomationSuspend,
			AccountID: account.ID,
			Details:   map[string]interface{}{"reason": reason, "trust_score": score},
		})
		m.log.Warn().
			Str("accountId", account.ID).
			Float64("trustScore", score).
			Bool("shadowbanned", shadowbanned).
			Msg("automation suspended")

		existing, err := m.alerts.FindUnresolvedByKind(ctx, account.ID, model.AlertAutomationSuspended)
		if err != nil {
			return err
		}
		if existing == nil {
			_, err = m.alerts.Create(ctx, model.CreateAlertParams{
				ID:        uuid.NewString(),
				AccountID: &account.ID,
				Kind:      model.AlertAutomationSuspended,
				Severity:  model.SeverityHigh,
				Message:   fmt.Sprintf("automation suspended for %s: %s", account.Username, reason),
			})
			if err != nil {
				return err
			}
			alertRaisedCount.WithLabelValues(string(model.AlertAutomationSuspended), string(model.SeverityHigh)).Inc()
		}

	case !unsafe && snap != nil && account.Suspended && suspendedByMonitor(account):
		if _, err := m.accounts.SetSuspended(ctx, account.ID, false, nil, nil, now); err != nil {
			return err
		}
		account.Suspended = false
		account.SuspendedReason = nil
		account.SuspendedSource = nil
		audit.Log(ctx, audit.Event{
			Type:      audit.EventAutomationResume,
			AccountID: account.ID,
			Details:   map[string]interface{}{"trust_score": score},
		})
		m.log.Info().
			Str("accountId", account.ID).
			Float64("trustScore", score).
			Msg("automation resumed")
		if _, err := m.alerts.ResolveByKind(ctx, account.ID, model.AlertAutomationSuspended, now); err != nil {
			return err
		}
	}
	return nil
}

// suspendedByMonitor distinguishes monitor suspensions from operator ones so
// recovery never silently undoes a manual hold. The source column is the
// authority; reason text is display-only and never parsed.
func suspendedByMonitor(account *model.Account) bool {
	return account.SuspendedSource != nil && *account.SuspendedSource == model.SuspendSourceMonitor
}

func suspendReason(shadowbanned bool) string {
	if shadowbanned {
		return "shadowban"
	}
	return "low_trust"
}

// AuditAll re-audits every account against its latest snapshot.
func (m *Monitor) AuditAll(ctx context.Context, now time.Time) error {
	latest, err := m.latestAllMap(ctx)
	if err != nil {
		return err
	}

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		accounts, err := m.accounts.FindAll(ctx, pageSize, offset)
		if err != nil {
			return err
		}
		for i := range accounts {
			account := &accounts[i]
			if err := m.Audit(ctx, account, latest[account.ID], now); err != nil {
				m.log.Error().Err(err).Str("accountId", account.ID).Msg("audit failed")
			}
		}
		if len(accounts) < pageSize {
			return nil
		}
	}
}

func (m *Monitor) latestAllMap(ctx context.Context) (map[string]*model.HealthSnapshot, error) {
	snaps, err := m.health.LatestAll(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*model.HealthSnapshot, len(snaps))
	for i := range snaps {
		latest[snaps[i].AccountID] = &snaps[i]
	}
	return latest, nil
}

// Suspend is the operator path for halting an account's automation. The
// suspension is stamped with the operator source, so the monitor's recovery
// check never auto-resumes it no matter what the reason text says.
func (m *Monitor) Suspend(ctx context.Context, accountID, reason string, now time.Time) (*model.Account, error) {
	src := model.SuspendSourceOperator
	account, err := m.accounts.SetSuspended(ctx, accountID, true, &reason, &src, now)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}
	suspensionCount.WithLabelValues("operator").Inc()
	audit.Log(ctx, audit.Event{
		Type:      audit.EventAutomationSuspend,
		AccountID: accountID,
		Details:   map[string]interface{}{"reason": reason, "operator": true},
	})
	return account, nil
}

// Resume lifts a suspension and resolves its alert. If the account is
// still below the trust floor the next audit will suspend it again.
func (m *Monitor) Resume(ctx context.Context, accountID string, now time.Time) (*model.Account, error) {
	account, err := m.accounts.SetSuspended(ctx, accountID, false, nil, nil, now)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}
	if _, err := m.alerts.ResolveByKind(ctx, accountID, model.AlertAutomationSuspended, now); err != nil {
		return nil, err
	}
	audit.Log(ctx, audit.Event{
		Type:      audit.EventAutomationResume,
		AccountID: accountID,
		Details:   map[string]interface{}{"operator": true},
	})
	return account, nil
}

// ReportShadowban records an operator- or executor-detected shadowban as a
// fresh snapshot on top of the latest counters, which suspends the account
// through the normal audit path.
func (m *Monitor) ReportShadowban(ctx context.Context, accountID string, now time.Time) (*model.HealthSnapshot, error) {
	latest, err := m.latest(ctx, accountID)
	if err != nil {
		return nil, err
	}
	input := model.HealthInput{Shadowbanned: true}
	if latest != nil {
		input = model.HealthInput{
			Karma:               latest.Karma,
			AccountAgeDays:      latest.AccountAgeDays,
			RemovedContentCount: latest.RemovedContentCount,
			DeletedContentCount: latest.DeletedContentCount,
			BanEvents:           latest.BanEvents,
			Shadowbanned:        true,
			CaptchaTriggered:    latest.CaptchaTriggered,
			LoginFailed:         latest.LoginFailed,
		}
	}
	audit.Log(ctx, audit.Event{
		Type:      audit.EventShadowbanReport,
		AccountID: accountID,
	})
	return m.RecordHealth(ctx, accountID, input, now)
}

// RefreshAll pulls fresh health for every account through the configured
// source. A nil source makes this a no-op; pushes via RecordHealth remain
// the only feed then.
func (m *Monitor) RefreshAll(ctx context.Context, now time.Time) error {
	if m.source == nil {
		return nil
	}

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		accounts, err := m.accounts.FindAll(ctx, pageSize, offset)
		if err != nil {
			return err
		}
		for i := range accounts {
			account := accounts[i]
			input, err := m.source.FetchHealth(ctx, account.ID)
			if err != nil {
				m.log.Error().Err(err).Str("accountId", account.ID).Msg("health fetch failed")
				continue
			}
			if _, err := m.RecordHealth(ctx, account.ID, input, now); err != nil {
				m.log.Error().Err(err).Str("accountId", account.ID).Msg("health refresh failed")
			}
		}
		if len(accounts) < pageSize {
			return nil
		}
	}
}
