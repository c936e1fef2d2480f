package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"buildingsense/backend/services/sensor-service/internal/password"
)

func TestHashFrom(t *testing.T) {
	hasher := password.NewBcryptHasher(bcrypt.MinCost)

	hash, err := hashFrom(strings.NewReader("s3cret-viewer\n"), hasher)
	require.NoError(t, err)
	require.NoError(t, hasher.Compare(hash, "s3cret-viewer"))

	_, err = hashFrom(strings.NewReader(""), hasher)
	require.Error(t, err)
}
