package handlers

import "net/http"

// Register mounts the push API on mux. Send and subscribe sit behind the
// API key check and limiter; the key lookup, events and health are public.
func (h *Handler) Register(mux *http.ServeMux, apiKey string, limiter *RateLimiter) {
	protect := func(next http.HandlerFunc) http.HandlerFunc {
		next = APIKeyMiddleware(apiKey, next)
		if limiter != nil {
			next = limiter.Middleware(next)
		}
		return next
	}
	send := protect(h.SendPushHandler)

	mux.HandleFunc("/api/push/vapid-key", CORSMiddleware(MetricsMiddleware("/api/push/vapid-key", h.GetVAPIDKeyHandler)))
	mux.HandleFunc("/api/push/send", CORSMiddleware(MetricsMiddleware("/api/push/send", func(w http.ResponseWriter, r *http.Request) {
		// The key lookup stays public, like /api/push/vapid-key
		if r.URL.Query().Get("action") == "get-vapid-key" {
			h.SendPushHandler(w, r)
			return
		}
		send(w, r)
	})))
	mux.HandleFunc("/api/push/subscribe", CORSMiddleware(MetricsMiddleware("/api/push/subscribe", protect(h.SubscribePushHandler))))
	mux.HandleFunc("/api/push/events", MetricsMiddleware("/api/push/events", h.EventsHandler))
	mux.HandleFunc("/health", h.HealthHandler)
}
