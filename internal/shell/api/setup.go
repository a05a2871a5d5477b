// Package api provides the HTTP surface of pagehost: JSON:API resources for
// pages, deployments and donated domains, plus plain JSON actions.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/manyminds/api2go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/artpar/pagehost/internal/core/auth"
	"github.com/artpar/pagehost/internal/core/domain"
	"github.com/artpar/pagehost/internal/shell/allocator"
	"github.com/artpar/pagehost/internal/shell/api/middleware"
	"github.com/artpar/pagehost/internal/shell/api/openapi"
	"github.com/artpar/pagehost/internal/shell/api/resources"
	"github.com/artpar/pagehost/internal/shell/metrics"
	"github.com/artpar/pagehost/internal/shell/orchestrator"
)

// DefaultMaxBodyBytes bounds the publish request body. Files arrive base64
// encoded, so this sits above the default total size limit.
const DefaultMaxBodyBytes = 80 << 20

// =============================================================================
// Dependencies
// =============================================================================

// Orchestrator is the publish pipeline and page service.
type Orchestrator interface {
	resources.PageService
	Publish(ctx context.Context, identity auth.Context, req orchestrator.PublishRequest) (*orchestrator.PublishResult, error)
	Availability(ctx context.Context, q orchestrator.AvailabilityQuery) (*orchestrator.Availability, error)
}

// DomainPool is the donated domain pool.
type DomainPool interface {
	resources.DomainPool
	ToggleActive(ctx context.Context, domainID string, donorID int) (*domain.DonatedDomain, error)
}

// PlatformDomains lists the platform-owned domains.
type PlatformDomains interface {
	PlatformDomains() []allocator.PlatformDomainInfo
}

// Pinger reports database readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is what the API needs from persistence directly.
type Store interface {
	Pinger
	middleware.UserResolver
}

// APIConfig holds configuration for the API setup.
type APIConfig struct {
	Orchestrator Orchestrator
	Pool         DomainPool
	Platform     PlatformDomains
	Store        Store

	// Gatherer backs /metrics. Nil leaves the endpoint out.
	Gatherer prometheus.Gatherer

	// SharedSecret, when set, must arrive in X-Gateway-Secret.
	SharedSecret string
	// Verifier checks bearer JWTs. Nil disables them.
	Verifier *auth.TokenVerifier

	MaxBodyBytes int64
	Logger       *slog.Logger
}

// =============================================================================
// Router
// =============================================================================

// SetupAPI creates the complete router: health and metrics at the root, the
// plain JSON actions and the JSON:API resources under /api.
func SetupAPI(cfg APIConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	h := &handlers{
		orch:         cfg.Orchestrator,
		pool:         cfg.Pool,
		platform:     cfg.Platform,
		ready:        cfg.Store,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       cfg.Logger,
	}

	router := mux.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(requestLogger(cfg.Logger))
	router.Use(chimw.Recoverer)

	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.readiness).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		router.Handle("/metrics", metrics.Handler(cfg.Gatherer)).Methods(http.MethodGet)
	}
	router.HandleFunc("/openapi.json", newOpenAPI().Handler()).Methods(http.MethodGet)

	authMW := middleware.NewAuthMiddleware(middleware.AuthConfig{
		SharedSecret: cfg.SharedSecret,
		Verifier:     cfg.Verifier,
		UserResolver: cfg.Store,
		Logger:       cfg.Logger,
	})

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMW.Handler)

	// Plain actions go first so the api2go catch-all does not swallow them.
	api.HandleFunc("/v1/publish", h.publish).Methods(http.MethodPost)
	api.HandleFunc("/v1/availability", h.availability).Methods(http.MethodGet)
	api.HandleFunc("/v1/platform_domains", h.platformDomains).Methods(http.MethodGet)
	api.Handle("/v1/donated_domains/{id}/toggle",
		middleware.RequireAuth(cfg.Logger)(http.HandlerFunc(h.toggleDonatedDomain)),
	).Methods(http.MethodPost)

	jsonAPI := api2go.NewAPIWithResolver("v1", api2go.NewStaticResolver("/api"))
	jsonAPI.ContentType = "application/vnd.api+json"
	jsonAPI.AddResource(resources.Page{}, resources.NewPageResource(cfg.Orchestrator))
	jsonAPI.AddResource(resources.PageDeployment{}, resources.NewPageDeploymentResource(cfg.Orchestrator))
	jsonAPI.AddResource(resources.DonatedDomain{}, resources.NewDonatedDomainResource(cfg.Pool))

	// api2go routes on /v1/..., so the /api prefix is stripped first.
	api.PathPrefix("/").Handler(http.StripPrefix("/api", jsonAPI.Handler()))

	return router
}

// newOpenAPI describes every route SetupAPI mounts under /api.
func newOpenAPI() *openapi.Generator {
	gen := openapi.NewGenerator(
		openapi.WithTitle("pagehost API"),
		openapi.WithVersion("1.0.0"),
		openapi.WithDescription("Publishes static sites at <subdomain>.<domain> on platform and donated domains"),
		openapi.WithServer("/"),
	)

	gen.RegisterResource(openapi.ResourceInfo{
		Name:           "pages",
		Model:          resources.Page{},
		SupportsFind:   true,
		SupportsDelete: true,
	})
	gen.RegisterResource(openapi.ResourceInfo{
		Name:         "page_deployments",
		Model:        resources.PageDeployment{},
		SupportsFind: true,
		Filters:      []string{"page_id"},
	})
	gen.RegisterResource(openapi.ResourceInfo{
		Name:           "donated_domains",
		Model:          resources.DonatedDomain{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsUpdate: true,
		Filters:        []string{"mine"},
	})

	gen.RegisterAction(openapi.ActionInfo{
		Method:      http.MethodPost,
		Path:        "/api/v1/publish",
		OperationID: "publishPage",
		Summary:     "Publish a static site",
		Tag:         "publish",
		Request:     orchestrator.PublishRequest{},
		Response:    orchestrator.PublishResult{},
		Status:      http.StatusCreated,
	})
	gen.RegisterAction(openapi.ActionInfo{
		Method:      http.MethodGet,
		Path:        "/api/v1/availability",
		OperationID: "checkAvailability",
		Summary:     "Check whether a subdomain can be published",
		Tag:         "publish",
		Query:       []string{"subdomain", "domain", "donated_domain_id"},
		Response:    orchestrator.Availability{},
	})
	gen.RegisterAction(openapi.ActionInfo{
		Method:      http.MethodGet,
		Path:        "/api/v1/platform_domains",
		OperationID: "listPlatformDomains",
		Summary:     "List platform domains",
		Tag:         "publish",
		Response:    PlatformDomainsResponse{},
	})
	gen.RegisterAction(openapi.ActionInfo{
		Method:      http.MethodPost,
		Path:        "/api/v1/donated_domains/{id}/toggle",
		OperationID: "toggleDonatedDomain",
		Summary:     "Activate or deactivate a donated domain",
		Tag:         "donated_domains",
		Response:    resources.DonatedDomain{},
	})
	return gen
}

// requestLogger logs one line per request with the chi request ID.
func requestLogger(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"request_id", chimw.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
