package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/karmaloop/automation-server-go/internal/errors"
	"github.com/karmaloop/automation-server-go/internal/model"
	"github.com/karmaloop/automation-server-go/internal/repository"
	"github.com/karmaloop/automation-server-go/internal/sse"
)

// pendingReplayLimit caps how many waiting jobs a reconnecting executor is
// sent before the live stream takes over.
const pendingReplayLimit = 100

// EventsHandler streams job announcements to executors over SSE. Each
// connection follows one account's stream.
type EventsHandler struct {
	broker   *sse.Broker
	accounts repository.AccountRepository
	jobs     repository.JobRepository
}

func NewEventsHandler(broker *sse.Broker, accounts repository.AccountRepository, jobs repository.JobRepository) *EventsHandler {
	return &EventsHandler{
		broker:   broker,
		accounts: accounts,
		jobs:     jobs,
	}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account")
	if accountID == "" {
		writeError(w, apperrors.MissingRequired("account"))
		return
	}

	account, err := h.accounts.FindByID(r.Context(), accountID)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if account == nil {
		writeError(w, apperrors.NotFound("Account"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(accountID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("accountId", accountID).
		Int("streams", h.broker.ClientCount(accountID)).
		Msg("job stream connection established")

	ctx := r.Context()

	h.sendEvent(w, flusher, "connected", map[string]any{
		"accountId": accountID,
		"suspended": account.Suspended,
	})

	// A reconnecting executor first gets the jobs that were scheduled while
	// it was away; they stay pending until claimed.
	if err := h.sendPendingJobs(ctx, w, flusher, accountID); err != nil {
		log.Error().Err(err).Msg("failed to send pending jobs")
	}

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("accountId", accountID).
				Msg("job stream closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("accountId", accountID).
				Msg("job stream closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("accountId", accountID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendPendingJobs(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, accountID string) error {
	status := model.JobStatusPending
	jobs, err := h.jobs.List(ctx, model.JobFilter{
		AccountID: &accountID,
		Status:    &status,
		Limit:     pendingReplayLimit,
	})
	if err != nil {
		return err
	}

	for i := range jobs {
		event := sse.Event{
			Type: sse.EventJobScheduled,
			Data: jobs[i].ToStreamEventData(),
		}
		if err := h.sendRawEvent(w, flusher, event); err != nil {
			return err
		}
	}

	if len(jobs) > 0 {
		log.Info().
			Str("accountId", accountID).
			Int("count", len(jobs)).
			Msg("sent pending jobs")
	}

	return nil
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
