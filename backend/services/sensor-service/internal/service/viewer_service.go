package service

import (
	"crypto/subtle"
	"errors"
	"time"

	"go.uber.org/zap"

	"buildingsense/backend/services/sensor-service/internal/password"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// ViewerService exchanges the configured viewer credentials for a bearer token.
type ViewerService struct {
	username string
	hash     string
	hasher   password.Hasher
	tokens   *TokenService
	logger   *zap.Logger
}

// NewViewerService returns service instance.
func NewViewerService(username, passwordHash string, hasher password.Hasher, tokens *TokenService, logger *zap.Logger) *ViewerService {
	return &ViewerService{username: username, hash: passwordHash, hasher: hasher, tokens: tokens, logger: logger}
}

// Login checks credentials and issues a viewer token.
func (s *ViewerService) Login(username, pass string) (string, time.Time, error) {
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) != 1 {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(s.hash, pass); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			s.logger.Info("viewer login rejected", zap.String("username", username))
		} else {
			s.logger.Error("viewer password hash unusable", zap.Error(err))
		}
		return "", time.Time{}, ErrInvalidCredentials
	}
	return s.tokens.GenerateToken(username, RoleViewer)
}
