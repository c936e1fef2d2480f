package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Viewer password bounds. bcrypt ignores everything past 72 bytes, so longer passwords are
// refused rather than silently truncated.
const (
	MinLength = 8
	MaxLength = 72
)

var (
	ErrTooShort = fmt.Errorf("password: shorter than %d bytes", MinLength)
	ErrTooLong  = fmt.Errorf("password: longer than %d bytes", MaxLength)
	ErrMismatch = errors.New("password: does not match")
	ErrBadHash  = errors.New("password: not a bcrypt hash")
)

// Hasher defines password hashing contract.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// BcryptHasher checks the viewer password against the bcrypt hash kept in configuration.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt-backed password hasher; cost 0 means bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash produces the value operators put in SENSOR_API_VIEWER_PASSWORD_HASH.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if err := checkLength(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("password: hash: %w", err)
	}
	return string(hash), nil
}

// Compare returns ErrMismatch for a wrong password and ErrBadHash when the configured hash
// itself is unusable.
func (h *BcryptHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrMismatch
	default:
		return fmt.Errorf("%w: %v", ErrBadHash, err)
	}
}

// CheckHash validates a configured hash at startup and reports its cost.
func (h *BcryptHasher) CheckHash(hash string) (int, error) {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadHash, err)
	}
	return cost, nil
}

// Weak reports whether a hash cost is below what this hasher would produce.
func (h *BcryptHasher) Weak(cost int) bool {
	return cost < h.cost
}

func checkLength(password string) error {
	switch {
	case len(password) < MinLength:
		return ErrTooShort
	case len(password) > MaxLength:
		return ErrTooLong
	}
	return nil
}
