package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alphaworks/marketplace-messaging/internal/middleware"
	"github.com/alphaworks/marketplace-messaging/internal/model"
	"github.com/alphaworks/marketplace-messaging/internal/notifier"
	"github.com/alphaworks/marketplace-messaging/internal/service"
	"github.com/alphaworks/marketplace-messaging/pkg/logger"
	"github.com/alphaworks/marketplace-messaging/pkg/metrics"
)

// EventsHandler streams conversation events over SSE for clients that
// cannot hold a WebSocket.
type EventsHandler struct {
	conversationService *service.ConversationService
	notifier            notifier.Notifier
	logger              *logger.Logger
}

// NewEventsHandler creates a new SSE events handler.
func NewEventsHandler(
	convSvc *service.ConversationService,
	notif notifier.Notifier,
	log *logger.Logger,
) *EventsHandler {
	return &EventsHandler{
		conversationService: convSvc,
		notifier:            notif,
		logger:              log,
	}
}

// Stream handles GET /api/v1/conversations/:id/events
//
// Events are a wake-up signal only; a client that connects late or
// drops the stream reconciles by re-listing messages.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Access-checked like any other conversation read.
	if _, err := h.conversationService.Get(ctx, userID, conversationID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.SSEConnectionsActive.Inc()
	defer metrics.SSEConnectionsActive.Dec()

	connID := "sse-" + uuid.New().String()
	events := make(chan model.MessageEvent, 16)
	err := h.notifier.Subscribe(conversationID, connID, func(ev model.MessageEvent) {
		select {
		case events <- ev:
		default:
			// Slow consumer; the next list call catches it up.
		}
	})
	if err != nil {
		h.logger.Error("failed to subscribe SSE client",
			zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	metrics.SubscriptionsActive.Inc()
	defer func() {
		h.notifier.Unsubscribe(conversationID, connID)
		metrics.SubscriptionsActive.Dec()
	}()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected",
				zap.String("conversation_id", conversationID))
			return

		case ev := <-events:
			sendSSEEvent(w, flusher, string(ev.Type), ev)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]time.Time{
				"timestamp": time.Now(),
			})
		}
	}
}

// sendSSEEvent writes a single SSE frame and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
