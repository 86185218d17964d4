package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/karmaloop/automation-server-go/internal/config"
	"github.com/karmaloop/automation-server-go/internal/engine"
	apperrors "github.com/karmaloop/automation-server-go/internal/errors"
	"github.com/karmaloop/automation-server-go/internal/model"
	"github.com/karmaloop/automation-server-go/internal/repository"
)

// JobsHandler serves the executor-facing job API: claiming due work,
// reporting outcomes, and the live job stream.
type JobsHandler struct {
	jobs      repository.JobRepository
	scheduler *engine.Scheduler
	events    *EventsHandler
}

func NewJobsHandler(jobs repository.JobRepository, scheduler *engine.Scheduler, events *EventsHandler) *JobsHandler {
	return &JobsHandler{
		jobs:      jobs,
		scheduler: scheduler,
		events:    events,
	}
}

func (h *JobsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/claim", h.Claim)
	r.Get("/stream", h.events.ServeHTTP)
	r.Route("/{jobID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/outcome", h.ReportOutcome)
	})
	return r
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)
	filter := model.JobFilter{Limit: page.Limit, Offset: page.Offset}

	if account := r.URL.Query().Get("account"); account != "" {
		filter.AccountID = &account
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := model.JobStatus(raw)
		switch status {
		case model.JobStatusPending, model.JobStatusDispatched,
			model.JobStatusSucceeded, model.JobStatusFailed:
			filter.Status = &status
		default:
			writeError(w, apperrors.InvalidInput("status", "unknown job status"))
			return
		}
	}

	jobs, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.jobs.FindByID(r.Context(), jobID)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if job == nil {
		writeError(w, apperrors.NotFound("Job"))
		return
	}

	writeJSON(w, http.StatusOK, job)
}

type claimRequest struct {
	AccountID string `json:"accountId"`
	Limit     int    `json:"limit"`
}

// Claim hands a batch of due jobs to an executor and marks them dispatched.
// An empty body claims up to the default batch across all accounts.
func (h *JobsHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.ValidationError("Invalid request body"))
			return
		}
	}
	if req.Limit < 0 || req.Limit > config.MaxClaimLimit {
		writeError(w, apperrors.InvalidInput("limit", "limit out of range"))
		return
	}

	var accountID *string
	if req.AccountID != "" {
		accountID = &req.AccountID
	}

	jobs, err := h.scheduler.Claim(r.Context(), req.Limit, accountID, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":    jobs,
		"claimed": len(jobs),
	})
}

type outcomeRequest struct {
	Success           bool   `json:"success"`
	ErrorClass        string `json:"errorClass"`
	ErrorMessage      string `json:"errorMessage"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// ReportOutcome records the result of an executed job. Reports are
// idempotent: repeating one for an already-final job returns the stored
// state without counting anything twice.
func (h *JobsHandler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if !req.Success && req.ErrorClass == "" {
		writeError(w, apperrors.MissingRequired("errorClass"))
		return
	}

	job, err := h.scheduler.ReportOutcome(r.Context(), jobID, model.JobOutcome{
		Success:      req.Success,
		ErrorClass:   req.ErrorClass,
		ErrorMessage: req.ErrorMessage,
		RetryAfter:   time.Duration(req.RetryAfterSeconds) * time.Second,
	}, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}
