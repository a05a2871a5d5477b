package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/artpar/pagehost/internal/core/apperr"
	"github.com/artpar/pagehost/internal/core/auth"
	"github.com/artpar/pagehost/internal/shell/api/middleware"
	"github.com/artpar/pagehost/internal/shell/api/resources"
	"github.com/artpar/pagehost/internal/shell/orchestrator"
)

// =============================================================================
// Handlers
// =============================================================================

// handlers serves the plain JSON endpoints: publish, availability, platform
// domains, the donor toggle and health.
type handlers struct {
	orch         Orchestrator
	pool         DomainPool
	platform     PlatformDomains
	ready        Pinger
	maxBodyBytes int64
	logger       *slog.Logger
}

// PlatformDomainsResponse lists the platform-owned domains.
type PlatformDomainsResponse struct {
	Domains []PlatformDomain `json:"domains"`
}

// PlatformDomain is one platform-owned domain.
type PlatformDomain struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// POST /api/v1/publish
func (h *handlers) publish(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.PublishRequest
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, apperr.Validation("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, apperr.Wrap(apperr.KindValidation, "invalid JSON body", err))
		return
	}

	res, err := h.orch.Publish(r.Context(), auth.FromContext(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GET /api/v1/availability?subdomain=&domain= | &donated_domain_id=
func (h *handlers) availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("subdomain") == "" {
		h.writeError(w, apperr.Validation("subdomain is required"))
		return
	}
	res, err := h.orch.Availability(r.Context(), orchestrator.AvailabilityQuery{
		Subdomain:       q.Get("subdomain"),
		Domain:          q.Get("domain"),
		DonatedDomainID: q.Get("donated_domain_id"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/v1/platform_domains
func (h *handlers) platformDomains(w http.ResponseWriter, _ *http.Request) {
	infos := h.platform.PlatformDomains()
	out := PlatformDomainsResponse{Domains: make([]PlatformDomain, 0, len(infos))}
	for _, d := range infos {
		out.Domains = append(out.Domains, PlatformDomain{Name: d.Name, Provider: d.Provider})
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /api/v1/donated_domains/{id}/toggle
func (h *handlers) toggleDonatedDomain(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if ok, msg := auth.RequireAuthentication(identity); !ok {
		h.writeError(w, apperr.Auth("%s", msg))
		return
	}

	d, err := h.pool.ToggleActive(r.Context(), mux.Vars(r)["id"], identity.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources.DonatedDomainFromDomain(d))
}

// =============================================================================
// Health
// =============================================================================

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	if err := h.ready.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		checks["database"] = "failed"
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}

// =============================================================================
// Helpers
// =============================================================================

// writeError maps a classified error to its status and the
// {error_kind, message} body. Unclassified errors are downstream failures.
// A downstream failure also reports its cause in detail.
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	body := middleware.ErrorBody{ErrorKind: kind.String(), Message: "internal error", Stage: apperr.StageOf(err)}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
		if kind == apperr.KindDownstream && appErr.Err != nil {
			body.Detail = appErr.Err.Error()
		}
	}

	if kind == apperr.KindDownstream {
		h.logger.Error("request failed", "stage", body.Stage, "error", err)
	}
	middleware.WriteErrorBody(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
