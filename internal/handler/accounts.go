package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/karmaloop/automation-server-go/internal/audit"
	"github.com/karmaloop/automation-server-go/internal/engine"
	apperrors "github.com/karmaloop/automation-server-go/internal/errors"
	"github.com/karmaloop/automation-server-go/internal/model"
	"github.com/karmaloop/automation-server-go/internal/repository"
)

// AccountsHandler serves the account management API: registration, settings,
// suspension control, and the per-account safety status view.
type AccountsHandler struct {
	accounts repository.AccountRepository
	health   repository.HealthRepository
	monitor  *engine.Monitor
	analyzer *engine.Analyzer
}

func NewAccountsHandler(
	accounts repository.AccountRepository,
	health repository.HealthRepository,
	monitor *engine.Monitor,
	analyzer *engine.Analyzer,
) *AccountsHandler {
	return &AccountsHandler{
		accounts: accounts,
		health:   health,
		monitor:  monitor,
		analyzer: analyzer,
	}
}

func (h *AccountsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Route("/{accountID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/settings", h.UpdateSettings)
		r.Delete("/", h.Delete)
		r.Post("/suspend", h.Suspend)
		r.Post("/resume", h.Resume)
		r.Post("/health", h.RecordHealth)
		r.Get("/health", h.HealthHistory)
		r.Post("/shadowban", h.ReportShadowban)
	})
	return r
}

type createAccountRequest struct {
	Username           string              `json:"username"`
	AutoUpvoteEnabled  bool                `json:"autoUpvoteEnabled"`
	AutoCommentEnabled bool                `json:"autoCommentEnabled"`
	AutoPostEnabled    bool                `json:"autoPostEnabled"`
	MaxDailyUpvotes    int                 `json:"maxDailyUpvotes"`
	MaxDailyComments   int                 `json:"maxDailyComments"`
	MaxDailyPosts      int                 `json:"maxDailyPosts"`
	Subreddits         []string            `json:"subreddits"`
	Windows            map[string][]string `json:"windows"`
}

// Create registers an account for automation. New accounts start with
// whatever the operator sends; omitted daily maxima stay at zero, which
// grants nothing until raised.
func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	if req.Username == "" {
		writeError(w, apperrors.MissingRequired("username"))
		return
	}
	if req.MaxDailyUpvotes < 0 || req.MaxDailyComments < 0 || req.MaxDailyPosts < 0 {
		writeError(w, apperrors.InvalidInput("maxDaily", "daily maxima must not be negative"))
		return
	}

	windows, err := parseWindows(req.Windows)
	if err != nil {
		writeError(w, err)
		return
	}

	existing, err := h.accounts.FindByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if existing != nil {
		writeError(w, apperrors.AlreadyExists("Account"))
		return
	}

	account, err := h.accounts.Create(r.Context(), model.CreateAccountParams{
		ID:                 uuid.NewString(),
		Username:           req.Username,
		AutoUpvoteEnabled:  req.AutoUpvoteEnabled,
		AutoCommentEnabled: req.AutoCommentEnabled,
		AutoPostEnabled:    req.AutoPostEnabled,
		MaxDailyUpvotes:    req.MaxDailyUpvotes,
		MaxDailyComments:   req.MaxDailyComments,
		MaxDailyPosts:      req.MaxDailyPosts,
		Subreddits:         req.Subreddits,
		Windows:            windows,
	})
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventAccountCreate,
		AccountID: account.ID,
		Details:   map[string]interface{}{"username": account.Username},
	})
	log.Info().Str("accountId", account.ID).Str("username", account.Username).
		Msg("account registered")

	writeJSON(w, http.StatusCreated, account)
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)

	accounts, err := h.accounts.FindAll(r.Context(), page.Limit, page.Offset)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	total, err := h.accounts.Count(r.Context())
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
		"total":    total,
	})
}

// Get returns the account settings alongside its live safety status: trust
// score, suspension state, today's usage, and any open breakers.
func (h *AccountsHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	safety, err := h.analyzer.AccountStatus(r.Context(), accountID, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"safety":  safety,
	})
}

type updateSettingsRequest struct {
	AutoUpvoteEnabled  *bool               `json:"autoUpvoteEnabled"`
	AutoCommentEnabled *bool               `json:"autoCommentEnabled"`
	AutoPostEnabled    *bool               `json:"autoPostEnabled"`
	MaxDailyUpvotes    *int                `json:"maxDailyUpvotes"`
	MaxDailyComments   *int                `json:"maxDailyComments"`
	MaxDailyPosts      *int                `json:"maxDailyPosts"`
	Subreddits         []string            `json:"subreddits"`
	Windows            map[string][]string `json:"windows"`
}

// UpdateSettings applies a partial settings update. Absent fields keep their
// current values; an explicit empty windows object clears all windows, which
// lets the account run around the clock.
func (h *AccountsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	if req.MaxDailyUpvotes != nil && *req.MaxDailyUpvotes < 0 ||
		req.MaxDailyComments != nil && *req.MaxDailyComments < 0 ||
		req.MaxDailyPosts != nil && *req.MaxDailyPosts < 0 {
		writeError(w, apperrors.InvalidInput("maxDaily", "daily maxima must not be negative"))
		return
	}

	params := model.UpdateSettingsParams{
		AutoUpvoteEnabled:  req.AutoUpvoteEnabled,
		AutoCommentEnabled: req.AutoCommentEnabled,
		AutoPostEnabled:    req.AutoPostEnabled,
		MaxDailyUpvotes:    req.MaxDailyUpvotes,
		MaxDailyComments:   req.MaxDailyComments,
		MaxDailyPosts:      req.MaxDailyPosts,
		Subreddits:         req.Subreddits,
	}
	if req.Windows != nil {
		windows, err := parseWindows(req.Windows)
		if err != nil {
			writeError(w, err)
			return
		}
		params.Windows = windows
	}

	account, err := h.accounts.UpdateSettings(r.Context(), accountID, params)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if account == nil {
		writeError(w, apperrors.NotFound("Account"))
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSettingsUpdate,
		AccountID: accountID,
	})

	writeJSON(w, http.StatusOK, account)
}

func (h *AccountsHandler) Delete(w http.ResponseWriter, r *http.Request) {
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

	if err := h.accounts.Delete(r.Context(), accountID); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventAccountDelete,
		AccountID: accountID,
		Details:   map[string]interface{}{"username": account.Username},
	})
	log.Info().Str("accountId", accountID).Msg("account deleted")

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

// Suspend takes the account out of scheduling until an operator resumes it.
// Operator suspensions are never auto-resumed by the safety audit.
func (h *AccountsHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req suspendRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.ValidationError("Invalid request body"))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator suspension"
	}

	account, err := h.monitor.Suspend(r.Context(), accountID, req.Reason, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (h *AccountsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	account, err := h.monitor.Resume(r.Context(), accountID, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// parseWindows converts the API's "HH:MM-HH:MM" window strings into the
// stored minute-precision form. Unknown action names and malformed ranges
// reject the whole request.
func parseWindows(raw map[string][]string) (model.WindowMap, error) {
	if raw == nil {
		return nil, nil
	}
	windows := make(model.WindowMap, len(raw))
	for name, ranges := range raw {
		action := model.ActionType(name)
		if !action.Valid() {
			return nil, apperrors.Configuration("unknown action type: " + name)
		}
		parsed := make([]model.ScheduleWindow, 0, len(ranges))
		for _, rng := range ranges {
			w, err := model.ParseWindow(rng)
			if err != nil {
				return nil, apperrors.Configuration("invalid window for " + name + ": " + rng)
			}
			parsed = append(parsed, w)
		}
		windows[action] = parsed
	}
	return windows, nil
}
