// Package auth provides the request identity and ownership checks.
// The login flow lives upstream; this package only consumes its result.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// =============================================================================
// Context Key
// =============================================================================

type contextKey string

const authContextKey contextKey = "auth"

// =============================================================================
// Types
// =============================================================================

// Context represents the identity behind a request.
type Context struct {
	// UserID is the local integer PK from the users table (resolved by middleware).
	UserID int

	// ReferenceID is the identity provider's subject (X-User-ID header or JWT sub).
	ReferenceID string

	Email string
	Name  string

	// AccessToken is the caller's scoped credential for the hosting provider.
	// It is never logged or persisted.
	AccessToken string

	// Authenticated indicates whether the request carries an identity
	Authenticated bool
}

// =============================================================================
// Header Constants
// =============================================================================

const (
	// HeaderUserID is the header containing the authenticated user's subject
	HeaderUserID = "X-User-ID"

	// HeaderUserEmail is the header containing the user's email
	HeaderUserEmail = "X-User-Email"

	// HeaderUserName is the header containing the user's display name
	HeaderUserName = "X-User-Name"

	// HeaderAccessToken is the header carrying the scoped hosting credential
	HeaderAccessToken = "X-Access-Token"

	// HeaderGatewaySecret is the header containing the shared secret for validation
	HeaderGatewaySecret = "X-Gateway-Secret"
)

// =============================================================================
// Context Extraction
// =============================================================================

// HeaderGetter is an interface for getting header values.
// This allows testing without requiring an http.Request.
type HeaderGetter interface {
	Get(key string) string
}

// ExtractFromRequest extracts the identity from HTTP request headers.
func ExtractFromRequest(r *http.Request, verifier *TokenVerifier) Context {
	return ExtractFromHeaders(r.Header, verifier)
}

// ExtractFromHeaders extracts the identity from headers.
// Note: UserID (int) is NOT set here. The middleware resolves it with a
// user upsert against the database.
//
// Identity sources (checked in order):
//  1. X-User-ID header, set by the trusted gateway
//  2. Authorization: Bearer {jwt}, verified with the configured secret
//
// Bearer tokens are ignored when verifier is nil.
func ExtractFromHeaders(headers HeaderGetter, verifier *TokenVerifier) Context {
	if referenceID := strings.TrimSpace(headers.Get(HeaderUserID)); referenceID != "" {
		return Context{
			ReferenceID:   referenceID,
			Email:         headers.Get(HeaderUserEmail),
			Name:          headers.Get(HeaderUserName),
			AccessToken:   headers.Get(HeaderAccessToken),
			Authenticated: true,
		}
	}

	if verifier == nil {
		return Context{Authenticated: false}
	}

	raw, ok := bearerToken(headers.Get("Authorization"))
	if !ok {
		return Context{Authenticated: false}
	}

	claims, err := verifier.Verify(raw)
	if err != nil || claims.Subject == "" {
		return Context{Authenticated: false}
	}

	accessToken := claims.AccessToken
	if accessToken == "" {
		accessToken = headers.Get(HeaderAccessToken)
	}

	return Context{
		ReferenceID:   claims.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
		AccessToken:   accessToken,
		Authenticated: true,
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// =============================================================================
// Context Storage
// =============================================================================

// WithContext stores the auth context in the request context.
func WithContext(ctx context.Context, authCtx Context) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

// FromContext retrieves the auth context from the request context.
// If no auth context is found, returns an unauthenticated context.
func FromContext(ctx context.Context) Context {
	if authCtx, ok := ctx.Value(authContextKey).(Context); ok {
		return authCtx
	}
	return Context{Authenticated: false}
}

// =============================================================================
// Helper Types for Testing
// =============================================================================

// MapHeaderGetter wraps a map to implement HeaderGetter interface.
type MapHeaderGetter map[string]string

func (m MapHeaderGetter) Get(key string) string {
	return m[key]
}
