package chirp

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func TestIssueAndValidateAccessToken(t *testing.T) {
	tok, err := IssueAccessToken(testSecret, "kiosk-1", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.False(t, tok.IsExpired())
	assert.InDelta(t, time.Minute.Seconds(), tok.TTL().Seconds(), 2)

	claims, err := ValidateAccessToken(testSecret, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", claims.Subject)
	assert.Equal(t, "chirp", claims.Issuer)
}

func TestValidateAccessTokenRejects(t *testing.T) {
	tok, err := IssueAccessToken(testSecret, "kiosk-1", time.Minute)
	require.NoError(t, err)

	_, err = ValidateAccessToken("another-secret-of-length", tok.Token)
	assert.True(t, IsErrorCode(err, ErrCodeUnauthorized))

	_, err = ValidateAccessToken(testSecret, "not-a-token")
	assert.True(t, IsErrorCode(err, ErrCodeUnauthorized))

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "chirp",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	signed, err := expired.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = ValidateAccessToken(testSecret, signed)
	assert.True(t, IsErrorCode(err, ErrCodeUnauthorized))

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err = foreign.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = ValidateAccessToken(testSecret, signed)
	assert.True(t, IsErrorCode(err, ErrCodeUnauthorized))
}

func TestIssueAccessTokenValidatesInput(t *testing.T) {
	_, err := IssueAccessToken("short", "x", time.Minute)
	assert.True(t, IsErrorCode(err, ErrCodeConfigInvalid))

	_, err = IssueAccessToken(testSecret, "x", 0)
	assert.True(t, IsErrorCode(err, ErrCodeConfigInvalid))
}

func TestAccessTokenExpiry(t *testing.T) {
	tok := &AccessToken{ExpiresAt: time.Now().Add(-time.Second)}
	assert.True(t, tok.IsExpired())
	assert.Equal(t, time.Duration(0), tok.TTL())
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Equal(t, "", bearerToken("Basic abc"))
	assert.Equal(t, "", bearerToken("Bearer "))
	assert.Equal(t, "", bearerToken(""))
}
