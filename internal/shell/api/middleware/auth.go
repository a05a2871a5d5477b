// Package middleware provides HTTP middleware for the pagehost API.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/artpar/pagehost/internal/core/apperr"
	"github.com/artpar/pagehost/internal/core/auth"
)

// =============================================================================
// User Resolver Interface
// =============================================================================

// UserResolver upserts a user by identity-provider subject and returns the
// local integer ID. The store implements this interface.
type UserResolver interface {
	ResolveUser(ctx context.Context, referenceID, email, name string) (int, error)
}

// =============================================================================
// Auth Configuration
// =============================================================================

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// SharedSecret, when set, must match the X-Gateway-Secret header.
	SharedSecret string

	// Verifier checks bearer JWTs. Nil disables bearer tokens.
	Verifier *auth.TokenVerifier

	// UserResolver resolves subjects to local IDs. If nil, UserID stays 0.
	UserResolver UserResolver

	Logger *slog.Logger
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware extracts the request identity and stores it in the request
// context. It never rejects an anonymous request; handlers decide.
type AuthMiddleware struct {
	config AuthConfig
}

// NewAuthMiddleware creates a new auth middleware with the given config.
func NewAuthMiddleware(cfg AuthConfig) *AuthMiddleware {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AuthMiddleware{config: cfg}
}

// Handler returns the middleware handler function.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.SharedSecret != "" {
			got := r.Header.Get(auth.HeaderGatewaySecret)
			if subtle.ConstantTimeCompare([]byte(got), []byte(m.config.SharedSecret)) != 1 {
				m.config.Logger.Warn("invalid gateway secret",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				WriteError(w, http.StatusForbidden, "auth", "invalid gateway secret")
				return
			}
		}

		ctx := auth.ExtractFromRequest(r, m.config.Verifier)

		if ctx.Authenticated && m.config.UserResolver != nil {
			userID, err := m.config.UserResolver.ResolveUser(r.Context(), ctx.ReferenceID, ctx.Email, ctx.Name)
			if err != nil {
				m.config.Logger.Error("failed to resolve user",
					"reference_id", ctx.ReferenceID,
					"error", err,
				)
				WriteError(w, http.StatusInternalServerError, apperr.KindDownstream.String(), "failed to resolve user identity")
				return
			}
			ctx.UserID = userID
		}

		next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), ctx)))
	})
}

// RequireAuth rejects unauthenticated requests with 401. It must run after
// AuthMiddleware.
func RequireAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.FromContext(r.Context()).Authenticated {
				logger.Debug("unauthenticated request", "path", r.URL.Path, "method", r.Method)
				WriteError(w, http.StatusUnauthorized, apperr.KindAuth.String(), "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Error Body
// =============================================================================

// ErrorBody is the error response shared by every non-JSON:API endpoint.
type ErrorBody struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Stage     string `json:"stage,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// WriteError writes an ErrorBody with the given status.
func WriteError(w http.ResponseWriter, status int, kind, message string) {
	WriteErrorBody(w, status, ErrorBody{ErrorKind: kind, Message: message})
}

// WriteErrorBody writes body with the given status.
func WriteErrorBody(w http.ResponseWriter, status int, body ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
