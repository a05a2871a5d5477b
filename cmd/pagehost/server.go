package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/artpar/pagehost/internal/core/auth"
	"github.com/artpar/pagehost/internal/core/crypto"
	coredns "github.com/artpar/pagehost/internal/core/dns"
	"github.com/artpar/pagehost/internal/shell/allocator"
	"github.com/artpar/pagehost/internal/shell/api"
	"github.com/artpar/pagehost/internal/shell/dns"
	"github.com/artpar/pagehost/internal/shell/metrics"
	"github.com/artpar/pagehost/internal/shell/orchestrator"
	"github.com/artpar/pagehost/internal/shell/pool"
	"github.com/artpar/pagehost/internal/shell/publisher"
	"github.com/artpar/pagehost/internal/shell/store"
	"github.com/artpar/pagehost/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitProviderError   = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the pagehost application server.
type Server struct {
	config      *Config
	httpServer  *http.Server
	store       store.Store
	reaper      *workers.StalePageReaper
	propagation *workers.PropagationChecker
	logger      *slog.Logger
}

// NewServer wires the store, DNS providers, publisher, orchestrator, API and
// workers from cfg.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	policy, err := coredns.ParseProbePolicy(cfg.DNS.ProbePolicy)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	sealer, err := crypto.NewSealer(cfg.Security.MasterKey)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	var verifier *auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier, err = auth.NewTokenVerifier(cfg.Auth.JWTSecret)
		if err != nil {
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
		}
	}

	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	factory := dns.NewFactory(logger, dns.WithRateLimit(cfg.DNS.RateLimit, cfg.DNS.Burst))

	alloc, err := allocator.New(s, cfg.Domains.Platform, factory, policy, m, logger)
	if err != nil {
		s.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitProviderError}
	}

	domainPool := pool.New(s, sealer, factory, pool.Config{AllowMemoryProvider: cfg.DNS.AllowMemory}, logger)

	var publishers publisher.Factory
	switch cfg.Publisher.Backend {
	case "memory":
		publishers = publisher.NewMemoryPublisher(cfg.Publisher.MemoryOwner)
		logger.Warn("using in-memory publisher; nothing is published")
	default:
		publishers = publisher.NewGitHubFactory(publisher.GitHubConfig{
			Token:   cfg.Publisher.Token,
			Org:     cfg.Publisher.Org,
			BaseURL: cfg.Publisher.BaseURL,
			Timeout: cfg.Publisher.Timeout,
		}, logger)
	}

	orch := orchestrator.New(s, alloc, domainPool, publishers, m, orchestrator.Config{
		Compensate:          cfg.Orchestrator.Compensate,
		FilePolicy:          cfg.Limits.FilePolicy(),
		CompensationTimeout: cfg.Orchestrator.CompensationTimeout,
	}, logger)

	handler := api.SetupAPI(api.APIConfig{
		Orchestrator: orch,
		Pool:         domainPool,
		Platform:     alloc,
		Store:        s,
		Gatherer:     reg,
		SharedSecret: cfg.Auth.SharedSecret,
		Verifier:     verifier,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	reaper := workers.NewStalePageReaper(s, orch, workers.StalePageReaperConfig{
		Interval:     cfg.Workers.StaleInterval,
		StaleAfter:   cfg.Workers.StaleAfter,
		InitialDelay: workers.DefaultStalePageReaperConfig().InitialDelay,
	}, logger)

	var propagation *workers.PropagationChecker
	if cfg.Workers.PropagationEnabled {
		propagation = workers.NewPropagationChecker(s, dns.NewResolver(nil), workers.PropagationCheckerConfig{
			Interval:      cfg.Workers.PropagationInterval,
			MaxConcurrent: cfg.Workers.PropagationMaxConcurrent,
			InitialDelay:  workers.DefaultPropagationCheckerConfig().InitialDelay,
		}, logger)
	}

	logger.Info("server configured",
		"platform_domains", len(cfg.Domains.Platform),
		"publisher", cfg.Publisher.Backend,
		"probe_policy", policy,
		"compensate", cfg.Orchestrator.Compensate,
	)

	return &Server{
		config:      cfg,
		httpServer:  httpServer,
		store:       s,
		reaper:      reaper,
		propagation: propagation,
		logger:      logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	s.reaper.Start()
	if s.propagation != nil {
		s.propagation.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server. In-flight publishes finish
// before the workers stop and the database closes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.reaper.Stop()
	if s.propagation != nil {
		s.propagation.Stop()
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
