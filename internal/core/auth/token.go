package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrEmptySecret  = errors.New("token secret is empty")
)

// Claims is the bearer token payload issued by the identity collaborator.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`

	// AccessToken is the scoped hosting credential carried in the token.
	AccessToken string `json:"gh_token,omitempty"`
}

// TokenVerifier checks HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier returns a verifier for the shared secret.
func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &TokenVerifier{secret: []byte(secret)}, nil
}

// Verify parses and validates a token string.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs a token for the given subject. Used by dev tooling and tests.
func (v *TokenVerifier) Issue(subject, email, accessToken string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:       email,
		AccessToken: accessToken,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
