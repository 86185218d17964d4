package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/karmaloop/automation-server-go/internal/model"
)

var testPenalties = TrustPenalties{Ban: 0.3, Deletion: 0.2, Removal: 0.1}

func TestComputeTrustScore(t *testing.T) {
	tests := []struct {
		name     string
		snap     *model.HealthSnapshot
		expected float64
	}{
		{
			name:     "no snapshot yields the neutral score",
			snap:     nil,
			expected: 0.5,
		},
		{
			name:     "clean account scores one",
			snap:     &model.HealthSnapshot{},
			expected: 1.0,
		},
		{
			name:     "shadowban zeroes everything",
			snap:     &model.HealthSnapshot{Karma: 100000, Shadowbanned: true},
			expected: 0,
		},
		{
			name:     "one ban event",
			snap:     &model.HealthSnapshot{BanEvents: 1},
			expected: 0.7,
		},
		{
			name:     "ban events compound",
			snap:     &model.HealthSnapshot{BanEvents: 2},
			expected: 0.49,
		},
		{
			name:     "one removed content",
			snap:     &model.HealthSnapshot{RemovedContentCount: 1},
			expected: 0.9,
		},
		{
			name:     "one deleted content",
			snap:     &model.HealthSnapshot{DeletedContentCount: 1},
			expected: 0.8,
		},
		{
			name:     "penalties multiply across kinds",
			snap:     &model.HealthSnapshot{BanEvents: 1, RemovedContentCount: 1, DeletedContentCount: 1},
			expected: 0.7 * 0.9 * 0.8,
		},
		{
			name:     "many events floor at zero",
			snap:     &model.HealthSnapshot{BanEvents: 1000},
			expected: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeTrustScore(tc.snap, testPenalties)
			assert.InDelta(t, tc.expected, got, 1e-9)
			// Same snapshot, same score, every time.
			assert.Equal(t, got, ComputeTrustScore(tc.snap, testPenalties))
		})
	}
}

func testMonitorConfig() MonitorConfig {
	return MonitorConfig{
		TrustFloor: 0.3,
		Penalties:  testPenalties,
		CacheTTL:   time.Minute,
		CacheSize:  16,
	}
}

func TestMonitor_Audit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("suspends below the floor with one high alert", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		alerts := new(mockAlertRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), alerts, nil, zerolog.Nop())

		account := &model.Account{ID: "acct-1", Username: "alice"}
		// Four ban events: 0.7^4 = 0.2401, under the 0.3 floor.
		snap := &model.HealthSnapshot{AccountID: "acct-1", BanEvents: 4}

		src := model.SuspendSourceMonitor
		accounts.On("SetSuspended", mock.Anything, "acct-1", true, mock.Anything, &src, now).
			Return(&model.Account{ID: "acct-1", Suspended: true}, nil)
		alerts.On("FindUnresolvedByKind", mock.Anything, "acct-1", model.AlertAutomationSuspended).
			Return(nil, nil)
		alerts.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateAlertParams) bool {
			return p.Kind == model.AlertAutomationSuspended &&
				p.Severity == model.SeverityHigh &&
				p.AccountID != nil && *p.AccountID == "acct-1"
		})).Return(&model.Alert{ID: "alert-1"}, nil)

		require.NoError(t, m.Audit(ctx, account, snap, now))
		require.NotNil(t, account.SuspendedSource)
		assert.Equal(t, model.SuspendSourceMonitor, *account.SuspendedSource)
		accounts.AssertExpectations(t)
		alerts.AssertExpectations(t)
	})

	t.Run("does not duplicate an open suspension alert", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		alerts := new(mockAlertRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), alerts, nil, zerolog.Nop())

		account := &model.Account{ID: "acct-1", Username: "alice"}
		snap := &model.HealthSnapshot{AccountID: "acct-1", Shadowbanned: true}

		accounts.On("SetSuspended", mock.Anything, "acct-1", true, mock.Anything, mock.Anything, now).
			Return(&model.Account{ID: "acct-1", Suspended: true}, nil)
		alerts.On("FindUnresolvedByKind", mock.Anything, "acct-1", model.AlertAutomationSuspended).
			Return(&model.Alert{ID: "alert-1"}, nil)

		require.NoError(t, m.Audit(ctx, account, snap, now))
		alerts.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("healthy account is untouched", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		alerts := new(mockAlertRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), alerts, nil, zerolog.Nop())

		account := &model.Account{ID: "acct-1"}
		snap := &model.HealthSnapshot{AccountID: "acct-1", RemovedContentCount: 1}

		require.NoError(t, m.Audit(ctx, account, snap, now))
		accounts.AssertNotCalled(t, "SetSuspended", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("resumes a monitor suspension once trust recovers", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		alerts := new(mockAlertRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), alerts, nil, zerolog.Nop())

		reason := "trust score 0.24 below floor 0.30"
		src := model.SuspendSourceMonitor
		account := &model.Account{ID: "acct-1", Suspended: true, SuspendedReason: &reason, SuspendedSource: &src}
		snap := &model.HealthSnapshot{AccountID: "acct-1"}

		accounts.On("SetSuspended", mock.Anything, "acct-1", false, (*string)(nil), (*model.SuspendSource)(nil), now).
			Return(&model.Account{ID: "acct-1"}, nil)
		alerts.On("ResolveByKind", mock.Anything, "acct-1", model.AlertAutomationSuspended, now).
			Return(int64(1), nil)

		require.NoError(t, m.Audit(ctx, account, snap, now))
		assert.Nil(t, account.SuspendedSource)
		accounts.AssertExpectations(t)
		alerts.AssertExpectations(t)
	})

	t.Run("never resumes an operator suspension", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		alerts := new(mockAlertRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), alerts, nil, zerolog.Nop())

		reason := "manual hold pending review"
		src := model.SuspendSourceOperator
		account := &model.Account{ID: "acct-1", Suspended: true, SuspendedReason: &reason, SuspendedSource: &src}
		snap := &model.HealthSnapshot{AccountID: "acct-1"}

		require.NoError(t, m.Audit(ctx, account, snap, now))
		accounts.AssertNotCalled(t, "SetSuspended", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("operator hold survives a trust-like reason text", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		alerts := new(mockAlertRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), alerts, nil, zerolog.Nop())

		// The reason reads like a monitor suspension; only the source
		// column decides provenance.
		reason := "trust score dispute under manual review"
		src := model.SuspendSourceOperator
		account := &model.Account{ID: "acct-1", Suspended: true, SuspendedReason: &reason, SuspendedSource: &src}
		snap := &model.HealthSnapshot{AccountID: "acct-1"}

		require.NoError(t, m.Audit(ctx, account, snap, now))
		accounts.AssertNotCalled(t, "SetSuspended", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing history never lifts a suspension", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		alerts := new(mockAlertRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), alerts, nil, zerolog.Nop())

		reason := "trust score 0.24 below floor 0.30"
		src := model.SuspendSourceMonitor
		account := &model.Account{ID: "acct-1", Suspended: true, SuspendedReason: &reason, SuspendedSource: &src}

		// Retention purged the history. The neutral default sits above the
		// floor, but it is not evidence the account recovered.
		require.NoError(t, m.Audit(ctx, account, nil, now))
		accounts.AssertNotCalled(t, "SetSuspended", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("shadowban suspends regardless of counters", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		alerts := new(mockAlertRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), alerts, nil, zerolog.Nop())

		account := &model.Account{ID: "acct-1"}
		snap := &model.HealthSnapshot{AccountID: "acct-1", Karma: 500000, Shadowbanned: true}

		accounts.On("SetSuspended", mock.Anything, "acct-1", true, mock.MatchedBy(func(r *string) bool {
			return r != nil && *r == "account is shadowbanned"
		}), mock.Anything, now).Return(&model.Account{ID: "acct-1", Suspended: true}, nil)
		alerts.On("FindUnresolvedByKind", mock.Anything, "acct-1", model.AlertAutomationSuspended).
			Return(&model.Alert{ID: "alert-1"}, nil)

		require.NoError(t, m.Audit(ctx, account, snap, now))
		accounts.AssertExpectations(t)
	})
}

func TestMonitor_RecordHealth(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("persists the snapshot and audits against it", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		health := new(mockHealthRepo)
		alerts := new(mockAlertRepo)
		m := NewMonitor(testMonitorConfig(), accounts, health, alerts, nil, zerolog.Nop())

		account := &model.Account{ID: "acct-1"}
		input := model.HealthInput{Karma: 1200, BanEvents: 1}

		accounts.On("FindByID", mock.Anything, "acct-1").Return(account, nil)
		health.On("Insert", mock.Anything, mock.MatchedBy(func(p model.CreateSnapshotParams) bool {
			return p.AccountID == "acct-1" && p.Input.Karma == 1200 && p.ID != ""
		})).Return(&model.HealthSnapshot{ID: "snap-1", AccountID: "acct-1", Karma: 1200, BanEvents: 1}, nil)

		snap, err := m.RecordHealth(ctx, "acct-1", input, now)
		require.NoError(t, err)
		assert.Equal(t, "snap-1", snap.ID)

		// Score 0.7 is above the floor, so no suspension calls happen.
		accounts.AssertNotCalled(t, "SetSuspended", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		health.AssertExpectations(t)
	})

	t.Run("unknown account is rejected", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), new(mockAlertRepo), nil, zerolog.Nop())

		accounts.On("FindByID", mock.Anything, "ghost").Return(nil, nil)

		_, err := m.RecordHealth(ctx, "ghost", model.HealthInput{}, now)
		assert.Error(t, err)
	})

	t.Run("trust score reads the cached snapshot after a push", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		health := new(mockHealthRepo)
		m := NewMonitor(testMonitorConfig(), accounts, health, new(mockAlertRepo), nil, zerolog.Nop())

		accounts.On("FindByID", mock.Anything, "acct-1").Return(&model.Account{ID: "acct-1"}, nil)
		health.On("Insert", mock.Anything, mock.Anything).
			Return(&model.HealthSnapshot{ID: "snap-1", AccountID: "acct-1", BanEvents: 1}, nil)

		_, err := m.RecordHealth(ctx, "acct-1", model.HealthInput{BanEvents: 1}, now)
		require.NoError(t, err)

		score, err := m.TrustScore(ctx, "acct-1")
		require.NoError(t, err)
		assert.InDelta(t, 0.7, score, 1e-9)
		health.AssertNotCalled(t, "LatestByAccount", mock.Anything, mock.Anything)
	})

	t.Run("trust score falls back to the database when cold", func(t *testing.T) {
		health := new(mockHealthRepo)
		m := NewMonitor(testMonitorConfig(), new(mockAccountRepo), health, new(mockAlertRepo), nil, zerolog.Nop())

		health.On("LatestByAccount", mock.Anything, "acct-1").
			Return(&model.HealthSnapshot{AccountID: "acct-1", DeletedContentCount: 1}, nil)

		score, err := m.TrustScore(ctx, "acct-1")
		require.NoError(t, err)
		assert.InDelta(t, 0.8, score, 1e-9)
	})

	t.Run("no history means the neutral score", func(t *testing.T) {
		health := new(mockHealthRepo)
		m := NewMonitor(testMonitorConfig(), new(mockAccountRepo), health, new(mockAlertRepo), nil, zerolog.Nop())

		health.On("LatestByAccount", mock.Anything, "acct-1").Return(nil, nil)

		score, err := m.TrustScore(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, NeutralTrustScore, score)
	})
}

func TestMonitor_ReportShadowban(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	accounts := new(mockAccountRepo)
	health := new(mockHealthRepo)
	alerts := new(mockAlertRepo)
	m := NewMonitor(testMonitorConfig(), accounts, health, alerts, nil, zerolog.Nop())

	// Existing counters must carry into the shadowban snapshot.
	health.On("LatestByAccount", mock.Anything, "acct-1").
		Return(&model.HealthSnapshot{AccountID: "acct-1", Karma: 900, BanEvents: 1}, nil)
	accounts.On("FindByID", mock.Anything, "acct-1").Return(&model.Account{ID: "acct-1"}, nil)
	health.On("Insert", mock.Anything, mock.MatchedBy(func(p model.CreateSnapshotParams) bool {
		return p.Input.Shadowbanned && p.Input.Karma == 900 && p.Input.BanEvents == 1
	})).Return(&model.HealthSnapshot{ID: "snap-2", AccountID: "acct-1", Karma: 900, BanEvents: 1, Shadowbanned: true}, nil)

	accounts.On("SetSuspended", mock.Anything, "acct-1", true, mock.Anything, mock.Anything, now).
		Return(&model.Account{ID: "acct-1", Suspended: true}, nil)
	alerts.On("FindUnresolvedByKind", mock.Anything, "acct-1", model.AlertAutomationSuspended).
		Return(nil, nil)
	alerts.On("Create", mock.Anything, mock.Anything).Return(&model.Alert{ID: "alert-1"}, nil)

	snap, err := m.ReportShadowban(ctx, "acct-1", now)
	require.NoError(t, err)
	assert.True(t, snap.Shadowbanned)
	accounts.AssertExpectations(t)
	health.AssertExpectations(t)
	alerts.AssertExpectations(t)
}

func TestMonitor_RefreshAll(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("nil source is a no-op", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), new(mockAlertRepo), nil, zerolog.Nop())

		require.NoError(t, m.RefreshAll(ctx, now))
		accounts.AssertNotCalled(t, "FindAll", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("a failing fetch does not stop the sweep", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		health := new(mockHealthRepo)
		source := new(mockHealthSource)
		m := NewMonitor(testMonitorConfig(), accounts, health, new(mockAlertRepo), source, zerolog.Nop())

		fleet := []model.Account{{ID: "acct-1"}, {ID: "acct-2"}}
		accounts.On("FindAll", mock.Anything, 500, 0).Return(fleet, nil)

		source.On("FetchHealth", mock.Anything, "acct-1").
			Return(model.HealthInput{}, assert.AnError)
		source.On("FetchHealth", mock.Anything, "acct-2").
			Return(model.HealthInput{Karma: 50}, nil)

		accounts.On("FindByID", mock.Anything, "acct-2").Return(&model.Account{ID: "acct-2"}, nil)
		health.On("Insert", mock.Anything, mock.MatchedBy(func(p model.CreateSnapshotParams) bool {
			return p.AccountID == "acct-2" && p.Input.Karma == 50
		})).Return(&model.HealthSnapshot{ID: "snap-1", AccountID: "acct-2", Karma: 50}, nil)

		require.NoError(t, m.RefreshAll(ctx, now))
		source.AssertExpectations(t)
		health.AssertExpectations(t)
	})
}

func TestMonitor_Suspend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("stamps the operator source", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), new(mockAlertRepo), nil, zerolog.Nop())

		reason := "manual hold pending review"
		src := model.SuspendSourceOperator
		accounts.On("SetSuspended", mock.Anything, "acct-1", true, &reason, &src, now).
			Return(&model.Account{ID: "acct-1", Suspended: true, SuspendedReason: &reason, SuspendedSource: &src}, nil)

		account, err := m.Suspend(ctx, "acct-1", reason, now)
		require.NoError(t, err)
		assert.True(t, account.Suspended)
		accounts.AssertExpectations(t)
	})

	t.Run("unknown account is rejected", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), new(mockAlertRepo), nil, zerolog.Nop())

		accounts.On("SetSuspended", mock.Anything, "ghost", true, mock.Anything, mock.Anything, now).Return(nil, nil)

		_, err := m.Suspend(ctx, "ghost", "hold", now)
		assert.Error(t, err)
	})
}

func TestMonitor_Resume(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("lifts the suspension and resolves its alert", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		alerts := new(mockAlertRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), alerts, nil, zerolog.Nop())

		accounts.On("SetSuspended", mock.Anything, "acct-1", false, (*string)(nil), (*model.SuspendSource)(nil), now).
			Return(&model.Account{ID: "acct-1"}, nil)
		alerts.On("ResolveByKind", mock.Anything, "acct-1", model.AlertAutomationSuspended, now).
			Return(int64(1), nil)

		account, err := m.Resume(ctx, "acct-1", now)
		require.NoError(t, err)
		assert.False(t, account.Suspended)
		alerts.AssertExpectations(t)
	})

	t.Run("unknown account is rejected", func(t *testing.T) {
		accounts := new(mockAccountRepo)
		m := NewMonitor(testMonitorConfig(), accounts, new(mockHealthRepo), new(mockAlertRepo), nil, zerolog.Nop())

		accounts.On("SetSuspended", mock.Anything, "ghost", false, (*string)(nil), (*model.SuspendSource)(nil), now).Return(nil, nil)

		_, err := m.Resume(ctx, "ghost", now)
		assert.Error(t, err)
	})
}
