package engine

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/karmaloop/automation-server-go/internal/model"
	"github.com/karmaloop/automation-server-go/internal/repository"
)

// Mock repositories

type mockAccountRepo struct {
	mock.Mock
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindAll(ctx context.Context, limit, offset int) ([]model.Account, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindSchedulable(ctx context.Context) ([]model.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *mockAccountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) UpdateSettings(ctx context.Context, id string, params model.UpdateSettingsParams) (*model.Account, error) {
	args := m.Called(ctx, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) UpdateTuning(ctx context.Context, id string, tuning model.TuningMap) (*model.Account, error) {
	args := m.Called(ctx, id, tuning)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) SetSuspended(ctx context.Context, id string, suspended bool, reason *string, source *model.SuspendSource, now time.Time) (*model.Account, error) {
	args := m.Called(ctx, id, suspended, reason, source, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockAccountRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockAccountRepo) WithTx(tx *sqlx.Tx) repository.AccountRepository {
	return m
}

type mockJobRepo struct {
	mock.Mock
}

func (m *mockJobRepo) Create(ctx context.Context, params model.CreateJobParams) (*model.ScheduledJob, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScheduledJob), args.Error(1)
}

func (m *mockJobRepo) FindByID(ctx context.Context, id string) (*model.ScheduledJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScheduledJob), args.Error(1)
}

func (m *mockJobRepo) FindOpen(ctx context.Context) ([]model.ScheduledJob, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.ScheduledJob), args.Error(1)
}

func (m *mockJobRepo) ClaimDue(ctx context.Context, now, deadline time.Time, limit int, accountID *string) ([]model.ScheduledJob, error) {
	args := m.Called(ctx, now, deadline, limit, accountID)
	return args.Get(0).([]model.ScheduledJob), args.Error(1)
}

func (m *mockJobRepo) Finalize(ctx context.Context, id string, status model.JobStatus, errClass, errMsg *string, now time.Time) (*model.ScheduledJob, error) {
	args := m.Called(ctx, id, status, errClass, errMsg, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ScheduledJob), args.Error(1)
}

func (m *mockJobRepo) FindOverdue(ctx context.Context, now time.Time) ([]model.ScheduledJob, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]model.ScheduledJob), args.Error(1)
}

func (m *mockJobRepo) List(ctx context.Context, filter model.JobFilter) ([]model.ScheduledJob, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]model.ScheduledJob), args.Error(1)
}

func (m *mockJobRepo) OutcomeStats(ctx context.Context, accountID string, since time.Time) ([]model.OutcomeStats, error) {
	args := m.Called(ctx, accountID, since)
	return args.Get(0).([]model.OutcomeStats), args.Error(1)
}

func (m *mockJobRepo) ErrorPatterns(ctx context.Context, since time.Time) ([]model.ErrorPattern, error) {
	args := m.Called(ctx, since)
	return args.Get(0).([]model.ErrorPattern), args.Error(1)
}

func (m *mockJobRepo) DeleteFinalizedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockJobRepo) WithTx(tx *sqlx.Tx) repository.JobRepository {
	return m
}

type mockHealthRepo struct {
	mock.Mock
}

func (m *mockHealthRepo) Insert(ctx context.Context, params model.CreateSnapshotParams) (*model.HealthSnapshot, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.HealthSnapshot), args.Error(1)
}

func (m *mockHealthRepo) LatestByAccount(ctx context.Context, accountID string) (*model.HealthSnapshot, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.HealthSnapshot), args.Error(1)
}

func (m *mockHealthRepo) LatestAll(ctx context.Context) ([]model.HealthSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.HealthSnapshot), args.Error(1)
}

func (m *mockHealthRepo) History(ctx context.Context, accountID string, limit int) ([]model.HealthSnapshot, error) {
	args := m.Called(ctx, accountID, limit)
	return args.Get(0).([]model.HealthSnapshot), args.Error(1)
}

func (m *mockHealthRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockHealthRepo) WithTx(tx *sqlx.Tx) repository.HealthRepository {
	return m
}

type mockAlertRepo struct {
	mock.Mock
}

func (m *mockAlertRepo) Create(ctx context.Context, params model.CreateAlertParams) (*model.Alert, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Alert), args.Error(1)
}

func (m *mockAlertRepo) FindByID(ctx context.Context, id string) (*model.Alert, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Alert), args.Error(1)
}

func (m *mockAlertRepo) FindUnresolvedByKind(ctx context.Context, accountID string, kind model.AlertKind) (*model.Alert, error) {
	args := m.Called(ctx, accountID, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Alert), args.Error(1)
}

func (m *mockAlertRepo) FindUnresolvedByFingerprint(ctx context.Context, kind model.AlertKind, fingerprint string) (*model.Alert, error) {
	args := m.Called(ctx, kind, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Alert), args.Error(1)
}

func (m *mockAlertRepo) List(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]model.Alert), args.Error(1)
}

func (m *mockAlertRepo) CountUnresolved(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockAlertRepo) Resolve(ctx context.Context, id string, now time.Time) (*model.Alert, error) {
	args := m.Called(ctx, id, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Alert), args.Error(1)
}

func (m *mockAlertRepo) ResolveByKind(ctx context.Context, accountID string, kind model.AlertKind, now time.Time) (int64, error) {
	args := m.Called(ctx, accountID, kind, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAlertRepo) ResolveByFingerprint(ctx context.Context, kind model.AlertKind, fingerprint string, now time.Time) (int64, error) {
	args := m.Called(ctx, kind, fingerprint, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAlertRepo) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAlertRepo) WithTx(tx *sqlx.Tx) repository.AlertRepository {
	return m
}

// Mock publisher

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJob(ctx context.Context, job *model.ScheduledJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// Mock health source

type mockHealthSource struct {
	mock.Mock
}

func (m *mockHealthSource) FetchHealth(ctx context.Context, accountID string) (model.HealthInput, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(model.HealthInput), args.Error(1)
}
