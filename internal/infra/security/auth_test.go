//go:build !integration

package security

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret-please-change", time.Minute)
	tok, err := m.Mint("user-1", "customer")
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/purchase", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	claims, err := m.ParseFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "customer", claims.Role)
}

func TestTokenManager_Rejects(t *testing.T) {
	m := NewTokenManager("test-secret-please-change", time.Minute)

	t.Run("missing header", func(t *testing.T) {
		_, err := m.ParseFromRequest(httptest.NewRequest("GET", "/", nil))
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenManager("another-secret", time.Minute)
		tok, _ := other.Mint("user-1", "")
		_, err := m.Parse(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewTokenManager("test-secret-please-change", time.Minute)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		tok, _ := old.Mint("user-1", "")
		_, err := m.Parse(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
