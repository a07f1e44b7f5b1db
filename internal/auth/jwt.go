package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when a request carries no bearer token
var ErrMissingToken = errors.New("missing token")

// JWTClaims represents the claims in a streaming client token
type JWTClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates HS256 tokens for streaming clients.
// A zero-secret Authenticator is disabled and accepts every request.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator; an empty secret disables it
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Enabled reports whether tokens are required
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// GenerateClientToken generates a JWT token for a streaming client
func (a *Authenticator) GenerateClientToken(clientID string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("authentication is disabled")
	}

	now := time.Now()
	claims := &JWTClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (a *Authenticator) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrTokenInvalidClaims
}

// TokenFromRequest extracts the token from the Authorization header or,
// for browser websocket clients that cannot set headers, the token query parameter.
func TokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token, nil
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}
