package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/karmaloop/automation-server-go/internal/errors"
	"github.com/karmaloop/automation-server-go/internal/model"
)

const defaultHistoryLimit = 30

// RecordHealth ingests a raw health snapshot pushed by the Reddit client.
// The monitor recomputes the trust score and may suspend the account as a
// side effect, so the returned snapshot already reflects the new state.
func (h *AccountsHandler) RecordHealth(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var input model.HealthInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	// Karma can legitimately go negative; the incident counters cannot.
	if input.AccountAgeDays < 0 || input.RemovedContentCount < 0 ||
		input.DeletedContentCount < 0 || input.BanEvents < 0 {
		writeError(w, apperrors.InvalidInput("counters", "counts must not be negative"))
		return
	}

	snapshot, err := h.monitor.RecordHealth(r.Context(), accountID, input, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snapshot)
}

// HealthHistory returns the most recent snapshots for the account, newest
// first.
func (h *AccountsHandler) HealthHistory(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	account, err := h.accounts.FindByID(r.Context(), accountID)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if account == nil {
		writeError(w, apperrors.NotFound("Account"))
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= MaxLimit {
			limit = parsed
		}
	}

	snapshots, err := h.health.History(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// ReportShadowban records an externally detected shadowban. The monitor
// folds it into a fresh snapshot, which zeroes the trust score and suspends
// the account.
func (h *AccountsHandler) ReportShadowban(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	snapshot, err := h.monitor.ReportShadowban(r.Context(), accountID, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snapshot)
}
