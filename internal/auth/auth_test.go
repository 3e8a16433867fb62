package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateToken(t *testing.T) {
	m, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, exp, err := m.IssueToken("research-cli")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "research-cli", claims.Name)
	assert.Equal(t, "research-cli", claims.Subject)
	assert.Equal(t, "kibitz", claims.Issuer)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m, err := NewJWTManager("", "", -time.Minute)
	require.NoError(t, err)

	token, _, err := m.IssueToken("client")
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsOtherKey(t *testing.T) {
	m1, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	m2, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := m1.IssueToken("client")
	require.NoError(t, err)

	_, err = m2.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongAlgorithm(t *testing.T) {
	m, err := NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	// An HMAC token signed with an arbitrary secret must not validate.
	claims := Claims{Name: "client"}
	claims.Issuer = "kibitz"
	claims.Audience = jwt.ClaimStrings{"kibitz"}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = m.ValidateToken(forged)
	assert.Error(t, err)
}

func TestHashAndVerifyKey(t *testing.T) {
	hash, err := HashKey("s3cret")
	require.NoError(t, err)

	ok, err := VerifyKey("s3cret", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyKey("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyKeyRejectsMalformedHash(t *testing.T) {
	_, err := VerifyKey("key", "not-a-hash")
	assert.Error(t, err)
}

func TestHashKeyIsSalted(t *testing.T) {
	h1, err := HashKey("same")
	require.NoError(t, err)
	h2, err := HashKey("same")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
