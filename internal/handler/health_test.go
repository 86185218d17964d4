package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/karmaloop/automation-server-go/internal/model"
)

func TestAccountsHandler_RecordHealth(t *testing.T) {
	t.Run("records a snapshot for a healthy account", func(t *testing.T) {
		rig := newAccountsRig()
		rig.accounts.On("FindByID", mock.Anything, "acct-1").Return(testAccount(), nil)

		var inserted model.CreateSnapshotParams
		rig.health.On("Insert", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				inserted = args.Get(1).(model.CreateSnapshotParams)
			}).
			Return(&model.HealthSnapshot{ID: "snap-1", AccountID: "acct-1", Karma: 1200}, nil)

		body := bytes.NewBufferString(`{"karma": 1200, "accountAgeDays": 400}`)
		req := httptest.NewRequest(http.MethodPost, "/acct-1/health", body)
		rec := httptest.NewRecorder()

		rig.handler.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"karma":1200`)
		assert.Equal(t, "acct-1", inserted.AccountID)
		assert.Equal(t, 1200, inserted.Input.Karma)
		assert.Equal(t, 400, inserted.Input.AccountAgeDays)
		// A clean snapshot must not touch the suspension state.
		rig.accounts.AssertNotCalled(t, "SetSuspended",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		rig.health.AssertExpectations(t)
	})

	t.Run("a shadowbanned snapshot suspends the account", func(t *testing.T) {
		rig := newAccountsRig()
		rig.accounts.On("FindByID", mock.Anything, "acct-1").Return(testAccount(), nil)
		rig.health.On("Insert", mock.Anything, mock.Anything).
			Return(&model.HealthSnapshot{ID: "snap-1", AccountID: "acct-1", Shadowbanned: true}, nil)

		var reason *string
		rig.accounts.On("SetSuspended", mock.Anything, "acct-1", true, mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				reason = args.Get(3).(*string)
			}).
			Return(testAccount(), nil)
		rig.alerts.On("FindUnresolvedByKind", mock.Anything, "acct-1", model.AlertAutomationSuspended).
			Return(nil, nil)
		rig.alerts.On("Create", mock.Anything, mock.Anything).
			Return(&model.Alert{ID: "alert-1"}, nil)

		body := bytes.NewBufferString(`{"shadowbanned": true}`)
		req := httptest.NewRequest(http.MethodPost, "/acct-1/health", body)
		rec := httptest.NewRecorder()

		rig.handler.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"shadowbanned":true`)
		assert.Equal(t, "account is shadowbanned", *reason)
		rig.accounts.AssertExpectations(t)
		rig.alerts.AssertExpectations(t)
	})

	t.Run("returns 400 for negative counters", func(t *testing.T) {
		rig := newAccountsRig()

		body := bytes.NewBufferString(`{"banEvents": -1}`)
		req := httptest.NewRequest(http.MethodPost, "/acct-1/health", body)
		rec := httptest.NewRecorder()

		rig.handler.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_INPUT")
	})

	t.Run("accepts negative karma", func(t *testing.T) {
		rig := newAccountsRig()
		rig.accounts.On("FindByID", mock.Anything, "acct-1").Return(testAccount(), nil)
		rig.health.On("Insert", mock.Anything, mock.Anything).
			Return(&model.HealthSnapshot{ID: "snap-1", AccountID: "acct-1", Karma: -40}, nil)

		body := bytes.NewBufferString(`{"karma": -40}`)
		req := httptest.NewRequest(http.MethodPost, "/acct-1/health", body)
		rec := httptest.NewRecorder()

		rig.handler.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("returns 404 for an unknown account", func(t *testing.T) {
		rig := newAccountsRig()
		rig.accounts.On("FindByID", mock.Anything, "nope").Return(nil, nil)

		body := bytes.NewBufferString(`{"karma": 10}`)
		req := httptest.NewRequest(http.MethodPost, "/nope/health", body)
		rec := httptest.NewRecorder()

		rig.handler.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAccountsHandler_HealthHistory(t *testing.T) {
	t.Run("returns recent snapshots", func(t *testing.T) {
		rig := newAccountsRig()
		rig.accounts.On("FindByID", mock.Anything, "acct-1").Return(testAccount(), nil)
		rig.health.On("History", mock.Anything, "acct-1", defaultHistoryLimit).
			Return([]model.HealthSnapshot{{ID: "snap-2"}, {ID: "snap-1"}}, nil)

		req := httptest.NewRequest(http.MethodGet, "/acct-1/health", nil)
		rec := httptest.NewRecorder()

		rig.handler.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":2`)
		rig.health.AssertExpectations(t)
	})

	t.Run("honors the limit parameter", func(t *testing.T) {
		rig := newAccountsRig()
		rig.accounts.On("FindByID", mock.Anything, "acct-1").Return(testAccount(), nil)
		rig.health.On("History", mock.Anything, "acct-1", 5).
			Return([]model.HealthSnapshot{}, nil)

		req := httptest.NewRequest(http.MethodGet, "/acct-1/health?limit=5", nil)
		rec := httptest.NewRecorder()

		rig.handler.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		rig.health.AssertExpectations(t)
	})

	t.Run("returns 404 for an unknown account", func(t *testing.T) {
		rig := newAccountsRig()
		rig.accounts.On("FindByID", mock.Anything, "nope").Return(nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/nope/health", nil)
		rec := httptest.NewRecorder()

		rig.handler.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAccountsHandler_ReportShadowban(t *testing.T) {
	t.Run("carries prior counters into the shadowban snapshot", func(t *testing.T) {
		rig := newAccountsRig()
		rig.health.On("LatestByAccount", mock.Anything, "acct-1").
			Return(&model.HealthSnapshot{AccountID: "acct-1", Karma: 800, DeletedContentCount: 2}, nil)
		rig.accounts.On("FindByID", mock.Anything, "acct-1").Return(testAccount(), nil)

		var inserted model.CreateSnapshotParams
		rig.health.On("Insert", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				inserted = args.Get(1).(model.CreateSnapshotParams)
			}).
			Return(&model.HealthSnapshot{ID: "snap-2", AccountID: "acct-1", Shadowbanned: true}, nil)
		rig.accounts.On("SetSuspended", mock.Anything, "acct-1", true, mock.Anything, mock.Anything, mock.Anything).
			Return(testAccount(), nil)
		rig.alerts.On("FindUnresolvedByKind", mock.Anything, "acct-1", model.AlertAutomationSuspended).
			Return(nil, nil)
		rig.alerts.On("Create", mock.Anything, mock.Anything).
			Return(&model.Alert{ID: "alert-1"}, nil)

		req := httptest.NewRequest(http.MethodPost, "/acct-1/shadowban", nil)
		rec := httptest.NewRecorder()

		rig.handler.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.True(t, inserted.Input.Shadowbanned)
		assert.Equal(t, 800, inserted.Input.Karma)
		assert.Equal(t, 2, inserted.Input.DeletedContentCount)
		rig.health.AssertExpectations(t)
	})

	t.Run("returns 404 for an unknown account", func(t *testing.T) {
		rig := newAccountsRig()
		rig.health.On("LatestByAccount", mock.Anything, "nope").Return(nil, nil)
		rig.accounts.On("FindByID", mock.Anything, "nope").Return(nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/nope/shadowban", nil)
		rec := httptest.NewRecorder()

		rig.handler.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
