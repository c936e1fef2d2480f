package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"buildingsense/backend/services/sensor-service/internal/service"
)

// Authenticator issues tokens for viewer credentials.
type Authenticator interface {
	Login(username, password string) (string, time.Time, error)
}

// NewTokenHandler handles POST /api/v1/auth/token with HTTP basic credentials.
func NewTokenHandler(auth Authenticator, logger *zap.Logger) http.HandlerFunc {
	type response struct {
		Token     string    `json:"token"`
		TokenType string    `json:"token_type"`
		ExpiresAt time.Time `json:"expires_at"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		username, pass, ok := r.BasicAuth()
		if !ok || username == "" || pass == "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="sensor-api"`)
			writeError(w, http.StatusUnauthorized, "basic credentials are required")
			return
		}

		token, expires, err := auth.Login(username, pass)
		if err != nil {
			if errors.Is(err, service.ErrInvalidCredentials) {
				writeError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}
			logger.Error("token issue failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to issue token")
			return
		}

		writeJSON(w, http.StatusOK, response{Token: token, TokenType: "Bearer", ExpiresAt: expires})
	}
}
