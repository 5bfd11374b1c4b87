package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the token_type claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Lifetime bounds (seconds). User-supplied values are clamped into range.
const (
	MinAccessTTL  = 300
	MaxAccessTTL  = 86400
	MinRefreshTTL = 86400
	MaxRefreshTTL = 2592000

	DefaultAccessTTL  = 1800
	DefaultRefreshTTL = 15 * 24 * 3600
)

const defaultSecret = "blog-site-secret-change-me"

var secret = []byte(defaultSecret)

// SetSecret configures the JWT signing secret (call on startup).
func SetSecret(s string) {
	if s != "" {
		secret = []byte(s)
	}
}

// Binding carries the device/network claims embedded into both tokens.
// Empty fields mean the client did not supply the corresponding signal.
type Binding struct {
	FpHash string // sha256 of the device fingerprint
	IPNet  string // network-class hash of the client IP + user agent
	UAHash string // truncated sha256 of the user agent
}

// Claims is the JWT payload. Only SessionKey ties a token to server-side
// state; everything else is validated against the request.
type Claims struct {
	UserID     uint   `json:"uid"`
	SessionKey string `json:"session_key"`
	FpHash     string `json:"fp_hash,omitempty"`
	IPNet      string `json:"ip_net,omitempty"`
	UAHash     string `json:"ua_hash,omitempty"`
	TokenType  string `json:"token_type"`
	CreatedAt  int64  `json:"created_at"`
	jwtlib.RegisteredClaims
}

// ClampAccessTTL bounds an access token lifetime into the allowed range.
func ClampAccessTTL(seconds int) int {
	return clamp(seconds, MinAccessTTL, MaxAccessTTL, DefaultAccessTTL)
}

// ClampRefreshTTL bounds a refresh token lifetime into the allowed range.
func ClampRefreshTTL(seconds int) int {
	return clamp(seconds, MinRefreshTTL, MaxRefreshTTL, DefaultRefreshTTL)
}

func clamp(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sign creates a signed token of the given type with a fresh jti.
func Sign(tokenType string, userID uint, sessionKey string, b Binding, ttl time.Duration) (token string, jti string, err error) {
	now := time.Now()
	jti = uuid.New().String()
	claims := Claims{
		UserID:     userID,
		SessionKey: sessionKey,
		FpHash:     b.FpHash,
		IPNet:      b.IPNet,
		UAHash:     b.UAHash,
		TokenType:  tokenType,
		CreatedAt:  now.Unix(),
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        jti,
			Subject:   fmt.Sprintf("%d", userID),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
	token, err = jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
	return token, jti, err
}

// Parse validates a token string and returns its claims.
func Parse(tokenStr string) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ParseTyped validates a token and requires the given token_type claim.
func ParseTyped(tokenStr, tokenType string) (*Claims, error) {
	claims, err := Parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("wrong token type: want %s, got %s", tokenType, claims.TokenType)
	}
	return claims, nil
}

// Age returns how long ago the token was created.
func (c *Claims) Age() time.Duration {
	return time.Since(time.Unix(c.CreatedAt, 0))
}
