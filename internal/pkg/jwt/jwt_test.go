package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignParseRoundtrip(t *testing.T) {
	SetSecret("test-secret")

	binding := Binding{FpHash: "fp", IPNet: "net", UAHash: "ua"}
	token, jti, err := Sign(TypeAccess, 42, "sess-key", binding, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	claims, err := Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "sess-key", claims.SessionKey)
	assert.Equal(t, "fp", claims.FpHash)
	assert.Equal(t, TypeAccess, claims.TokenType)
	assert.Equal(t, jti, claims.ID)
}

func TestParseTypedRejectsWrongType(t *testing.T) {
	SetSecret("test-secret")

	token, _, err := Sign(TypeRefresh, 1, "s", Binding{}, time.Hour)
	require.NoError(t, err)

	_, err = ParseTyped(token, TypeAccess)
	assert.Error(t, err)

	claims, err := ParseTyped(token, TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, TypeRefresh, claims.TokenType)
}

func TestParseRejectsExpired(t *testing.T) {
	SetSecret("test-secret")

	token, _, err := Sign(TypeAccess, 1, "s", Binding{}, -time.Minute)
	require.NoError(t, err)

	_, err = Parse(token)
	assert.Error(t, err)
}

func TestParseRejectsTampered(t *testing.T) {
	SetSecret("test-secret")
	token, _, err := Sign(TypeAccess, 1, "s", Binding{}, time.Hour)
	require.NoError(t, err)

	SetSecret("other-secret")
	_, err = Parse(token)
	assert.Error(t, err)
}

func TestClampLifetimes(t *testing.T) {
	assert.Equal(t, DefaultAccessTTL, ClampAccessTTL(0))
	assert.Equal(t, MinAccessTTL, ClampAccessTTL(10))
	assert.Equal(t, MaxAccessTTL, ClampAccessTTL(1<<30))
	assert.Equal(t, 3600, ClampAccessTTL(3600))

	assert.Equal(t, DefaultRefreshTTL, ClampRefreshTTL(0))
	assert.Equal(t, MinRefreshTTL, ClampRefreshTTL(10))
	assert.Equal(t, MaxRefreshTTL, ClampRefreshTTL(1<<31))
}
