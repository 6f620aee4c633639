package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	token, err := service.GenerateAccessToken(userID, "ops@example.com", []string{"operator"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.Equal(t, []string{"operator"}, claims.Roles)
	assert.Equal(t, AccessToken, claims.TokenType)
	assert.Equal(t, userID.String(), claims.Subject)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	token, err := service.GenerateRefreshToken(userID, "ops@example.com")
	require.NoError(t, err)

	claims, err := service.ValidateRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, RefreshToken, claims.TokenType)
}

func TestTokenTypeIsEnforced(t *testing.T) {
	service := newTestService()
	userID := uuid.New()

	access, err := service.GenerateAccessToken(userID, "ops@example.com", []string{"operator"})
	require.NoError(t, err)
	refresh, err := service.GenerateRefreshToken(userID, "ops@example.com")
	require.NoError(t, err)

	// A refresh token must never authenticate a request, and vice versa
	_, err = service.ValidateAccessToken(refresh)
	assert.Error(t, err)
	_, err = service.ValidateRefreshToken(access)
	assert.Error(t, err)
}

func TestWrongSecretRejected(t *testing.T) {
	service := newTestService()
	other := NewService("other-secret", "other-refresh", 15*time.Minute, time.Hour)

	token, err := service.GenerateAccessToken(uuid.New(), "ops@example.com", nil)
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	service := NewService("access-secret", "refresh-secret", -time.Minute, time.Hour)

	token, err := service.GenerateAccessToken(uuid.New(), "ops@example.com", nil)
	require.NoError(t, err)

	_, err = service.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestHasRole(t *testing.T) {
	claims := &Claims{Roles: []string{"operator", "admin"}}
	assert.True(t, claims.HasRole("operator"))
	assert.True(t, claims.HasRole("admin"))
	assert.False(t, claims.HasRole("consultant"))

	empty := &Claims{}
	assert.False(t, empty.HasRole("operator"))
}
