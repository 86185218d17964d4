package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/karmaloop/automation-server-go/internal/errors"
	"github.com/karmaloop/automation-server-go/internal/model"
	"github.com/karmaloop/automation-server-go/internal/repository"
)

// AlertsHandler exposes the safety alerts raised by the monitor, the
// breaker registry, and the error analyzer.
type AlertsHandler struct {
	alerts repository.AlertRepository
}

func NewAlertsHandler(alerts repository.AlertRepository) *AlertsHandler {
	return &AlertsHandler{alerts: alerts}
}

func (h *AlertsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/{alertID}/resolve", h.Resolve)
	return r
}

func (h *AlertsHandler) List(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)
	filter := model.AlertFilter{Limit: page.Limit, Offset: page.Offset}

	if account := r.URL.Query().Get("account"); account != "" {
		filter.AccountID = &account
	}
	if raw := r.URL.Query().Get("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, apperrors.InvalidInput("resolved", "must be true or false"))
			return
		}
		filter.Resolved = &resolved
	}

	alerts, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// Resolve marks an alert as handled. Resolving an alert that is already
// resolved returns it unchanged.
func (h *AlertsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")

	alert, err := h.alerts.Resolve(r.Context(), alertID, time.Now().UTC())
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if alert == nil {
		// Either unknown or already resolved; only the former is an error.
		alert, err = h.alerts.FindByID(r.Context(), alertID)
		if err != nil {
			writeError(w, apperrors.Database(err))
			return
		}
		if alert == nil {
			writeError(w, apperrors.NotFound("Alert"))
			return
		}
	}

	writeJSON(w, http.StatusOK, alert)
}
