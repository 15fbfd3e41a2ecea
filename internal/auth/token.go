// ABOUTME: JWT token verification for authenticating chat users
// ABOUTME: Uses HS256 signing with a configured secret; yields the user ID

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum accepted HS256 secret size in bytes
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token expired")
	ErrMissingClaim      = errors.New("missing required claim")
	ErrMissingCredential = errors.New("missing credential")
)

// userIDClaims are checked in order; the first non-empty string wins
var userIDClaims = []string{"sub", "id", "userId"}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret.
// Returns an error if the secret is shorter than MinSecretLength.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts the user ID from the "sub" claim,
// falling back to "id" and then "userId" for tokens minted elsewhere.
func (v *JWTVerifier) Verify(tokenString string) (userID string, err error) {
	if tokenString == "" {
		return "", ErrMissingCredential
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	for _, name := range userIDClaims {
		if id, ok := claims[name].(string); ok && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: sub", ErrMissingClaim)
}

// Generate creates a new JWT token for the given user ID with expiration
func (v *JWTVerifier) Generate(userID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// IsUnauthorized reports whether err is one of the credential failures
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrMissingClaim) ||
		errors.Is(err, ErrMissingCredential)
}
