package handlers

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) < 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

// validateAPIKey compares the bearer token against apiKey in constant time.
// An empty apiKey disables the check.
func validateAPIKey(r *http.Request, apiKey string) bool {
	if apiKey == "" {
		return true
	}
	token := bearerToken(r)
	if token == "" {
		return false
	}
	return hmac.Equal([]byte(token), []byte(apiKey))
}

// APIKeyMiddleware rejects requests without the service bearer key
func APIKeyMiddleware(apiKey string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !validateAPIKey(r, apiKey) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}
