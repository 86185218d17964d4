package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/karmaloop/automation-server-go/internal/engine"
	apperrors "github.com/karmaloop/automation-server-go/internal/errors"
)

// ReportsHandler serves the fleet-wide safety report and the error pattern
// analysis on demand, the same views the nightly triggers produce.
type ReportsHandler struct {
	analyzer        *engine.Analyzer
	defaultLookback time.Duration
}

func NewReportsHandler(analyzer *engine.Analyzer, defaultLookback time.Duration) *ReportsHandler {
	return &ReportsHandler{
		analyzer:        analyzer,
		defaultLookback: defaultLookback,
	}
}

func (h *ReportsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/safety", h.Safety)
	r.Get("/errors", h.Errors)
	return r
}

func (h *ReportsHandler) Safety(w http.ResponseWriter, r *http.Request) {
	report, err := h.analyzer.GenerateSafetyReport(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Errors returns failure patterns grouped by action, subreddit, and error
// class since the given time, defaulting to the analyzer's review period.
func (h *ReportsHandler) Errors(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r, time.Now().UTC(), h.defaultLookback)
	if err != nil {
		writeError(w, apperrors.InvalidInput("since", "must be an RFC 3339 timestamp"))
		return
	}

	patterns, err := h.analyzer.ErrorPatterns(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patterns": patterns,
		"since":    since,
		"count":    len(patterns),
	})
}
