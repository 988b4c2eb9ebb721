package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fluency-push-go/internal/dispatch"
	"fluency-push-go/internal/models"
	"fluency-push-go/internal/store"
)

// Dispatcher sends one payload to a set of subscriptions.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload []byte, subs []models.PushSubscription) (*dispatch.Result, error)
}

// EventSource streams dispatch summaries.
type EventSource interface {
	Subscribe(ctx context.Context) *redis.PubSub
}

type Handler struct {
	Store      store.SubscriptionStore
	Dispatcher Dispatcher
	Events     EventSource
	// VAPIDPublicKey is the base64url application server key handed to browsers.
	VAPIDPublicKey string
	Log            *zap.Logger
}

func NewHandler(s store.SubscriptionStore, d Dispatcher, events EventSource, vapidPublicKey string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Store:          s,
		Dispatcher:     d,
		Events:         events,
		VAPIDPublicKey: vapidPublicKey,
		Log:            log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Log.Warn("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// EventsHandler streams dispatch summaries as server-sent events.
func (h *Handler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		http.Error(w, "Event stream requires the redis backend", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	pubsub := h.Events.Subscribe(r.Context())
	defer pubsub.Close()

	ch := pubsub.Channel()

	fmt.Fprintf(w, "data: %s\n\n", "connected")
	flusher.Flush()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg.Payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
