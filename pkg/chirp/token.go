package chirp

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	tokenIssuer     = "chirp"
	SecretMinLength = 16
)

// AccessToken authorizes one client of the event server
type AccessToken struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the token is past its expiry
func (t *AccessToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// TTL returns the remaining lifetime, never negative
func (t *AccessToken) TTL() time.Duration {
	ttl := time.Until(t.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// ValidateSecret checks a server secret before it is used for signing
func ValidateSecret(secret string) error {
	if len(secret) < SecretMinLength {
		return NewConfigError(fmt.Sprintf("server secret must be at least %d characters", SecretMinLength))
	}
	return nil
}

// IssueAccessToken signs an HS256 token for subject valid for ttl
func IssueAccessToken(secret, subject string, ttl time.Duration) (*AccessToken, error) {
	if err := ValidateSecret(secret); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, NewConfigError("token ttl must be positive")
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return nil, WrapError(err, ErrCodeUnauthorized)
	}
	return &AccessToken{Token: signed, Subject: subject, ExpiresAt: expiresAt.Truncate(time.Second)}, nil
}

// ValidateAccessToken verifies signature, algorithm, issuer and expiry and
// returns the token's claims.
func ValidateAccessToken(secret, token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, NewAudioError("invalid access token: "+err.Error(), ErrCodeUnauthorized)
	}
	if !parsed.Valid {
		return nil, NewAudioError("invalid access token", ErrCodeUnauthorized)
	}
	if !claims.VerifyIssuer(tokenIssuer, true) {
		return nil, NewAudioError("invalid access token issuer", ErrCodeUnauthorized)
	}
	return claims, nil
}

// bearerToken extracts a token from "Authorization: Bearer ..." or returns ""
func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
