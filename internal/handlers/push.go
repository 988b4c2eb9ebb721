package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"fluency-push-go/internal/models"
	"fluency-push-go/internal/store"
	"fluency-push-go/internal/webpush"
)

const maxRequestBody = 64 << 10

type sendResponse struct {
	Sent   int `json:"sent"`
	Total  int `json:"total"`
	Gone   int `json:"gone,omitempty"`
	Failed int `json:"failed,omitempty"`
}

// GetVAPIDKeyHandler returns the public VAPID key
func (h *Handler) GetVAPIDKeyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.VAPIDPublicKey == "" {
		writeError(w, http.StatusInternalServerError, "VAPID keys not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"vapidPublicKey": h.VAPIDPublicKey})
}

// SendPushHandler sends a notification to one user, a list of users or
// every subscriber. ?action=get-vapid-key returns the public key instead.
func (h *Handler) SendPushHandler(w http.ResponseWriter, r *http.Request) {
	if h.VAPIDPublicKey == "" || h.Dispatcher == nil {
		writeError(w, http.StatusInternalServerError, "VAPID keys not configured")
		return
	}
	if r.URL.Query().Get("action") == "get-vapid-key" {
		writeJSON(w, http.StatusOK, map[string]string{"vapidPublicKey": h.VAPIDPublicKey})
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	subs, err := h.Store.ListSubscriptions(r.Context(), req.Filter())
	if err != nil {
		h.Log.Error("Failed to list subscriptions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load subscriptions")
		return
	}
	if len(subs) == 0 {
		writeJSON(w, http.StatusOK, sendResponse{})
		return
	}

	payload, err := json.Marshal(req.Payload())
	if err != nil {
		h.Log.Error("Failed to encode payload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to send notifications")
		return
	}

	res, err := h.Dispatcher.Dispatch(r.Context(), payload, subs)
	if err != nil {
		h.Log.Error("Dispatch aborted", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to send notifications")
		return
	}
	if res.Err != nil {
		h.Log.Warn("Dispatch finished with errors", zap.String("batch_id", res.BatchID), zap.Error(res.Err))
	}

	writeJSON(w, http.StatusOK, sendResponse{
		Sent:   res.Sent,
		Total:  res.Total,
		Gone:   res.Gone,
		Failed: res.Failed,
	})
}

// SubscribePushHandler saves (POST) or removes (DELETE) a push subscription
func (h *Handler) SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string       `json:"userId"`
		Endpoint string       `json:"endpoint"`
		Keys     webpush.Keys `json:"keys"`
	}

	switch r.Method {
	case http.MethodPost, http.MethodDelete:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Endpoint == "" {
		http.Error(w, "userId and endpoint are required", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodDelete {
		err := h.Store.DeleteSubscription(r.Context(), req.UserID, req.Endpoint)
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			http.Error(w, "Subscription not found", http.StatusNotFound)
			return
		}
		if err != nil {
			h.Log.Error("Failed to delete subscription", zap.String("user_id", req.UserID), zap.Error(err))
			http.Error(w, "Failed to delete subscription", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if _, err := webpush.Audience(req.Endpoint); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, _, err := webpush.DecodeSubscriptionKeys(req.Keys); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	saved, err := h.Store.SaveSubscription(r.Context(), models.PushSubscription{
		UserID:   req.UserID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		h.Log.Error("Failed to save subscription", zap.String("user_id", req.UserID), zap.Error(err))
		http.Error(w, "Failed to save subscription", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, saved)
}
