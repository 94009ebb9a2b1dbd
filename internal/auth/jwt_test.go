package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenAndExtractIdentity(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	secret := "test-secret"
	signed, expiresAt, err := GenerateToken(Identity{
		AgentID:   "agent-123",
		AccountID: "account-456",
		Role:      "administrator",
	}, secret, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	assert.True(t, token.Valid)
	c.Set("user", token)

	id, err := IdentityFromContext(c)
	require.NoError(t, err)
	assert.Equal(t, "agent-123", id.AgentID)
	assert.Equal(t, "account-456", id.AccountID)
	assert.Equal(t, "administrator", id.Role)
}

func TestGenerateTokenValidation(t *testing.T) {
	_, _, err := GenerateToken(Identity{AccountID: "a"}, "secret", time.Hour)
	assert.Error(t, err)

	_, _, err = GenerateToken(Identity{AgentID: "u"}, "secret", time.Hour)
	assert.Error(t, err)

	_, _, err = GenerateToken(Identity{AgentID: "u", AccountID: "a"}, "", time.Hour)
	assert.Error(t, err)

	_, _, err = GenerateToken(Identity{AgentID: "u", AccountID: "a"}, "secret", 0)
	assert.Error(t, err)
}

func TestIdentityFromContextMissingUser(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_, err := IdentityFromContext(c)
	require.Error(t, err)

	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestIdentityFallsBackToSubject(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	claims := jwt.MapClaims{"sub": "agent-789", "account_id": "account-1"}
	c.Set("user", &jwt.Token{Claims: claims, Valid: true})

	id, err := IdentityFromContext(c)
	require.NoError(t, err)
	assert.Equal(t, "agent-789", id.AgentID)
}
