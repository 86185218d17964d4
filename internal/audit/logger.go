package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventAccountCreate     EventType = "account_create"
	EventAccountDelete     EventType = "account_delete"
	EventSettingsUpdate    EventType = "settings_update"
	EventAutomationSuspend EventType = "automation_suspended"
	EventAutomationResume  EventType = "automation_resumed"
	EventBreakerOpen       EventType = "breaker_opened"
	EventBreakerClose      EventType = "breaker_closed"
	EventTuningAdjust      EventType = "tuning_adjusted"
	EventJobExpired        EventType = "job_expired"
	EventQuotaReset        EventType = "quota_reset"
	EventShadowbanReport   EventType = "shadowban_reported"
	EventAuthFailure       EventType = "auth_failure"
)

type Event struct {
	Type      EventType
	AccountID string
	Action    string
	JobID     string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "automation").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.AccountID != "" {
		logger = logger.With().Str("account_id", event.AccountID).Logger()
	}
	if event.Action != "" {
		logger = logger.With().Str("action", event.Action).Logger()
	}
	if event.JobID != "" {
		logger = logger.With().Str("job_id", event.JobID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case float64:
		return e.Float64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
