package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	coredns "github.com/artpar/pagehost/internal/core/dns"
	"github.com/artpar/pagehost/internal/core/limits"
	"github.com/artpar/pagehost/internal/shell/allocator"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Security     SecurityConfig     `mapstructure:"security"`
	DNS          DNSConfig          `mapstructure:"dns"`
	Domains      DomainsConfig      `mapstructure:"domains"`
	Publisher    PublisherConfig    `mapstructure:"publisher"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Workers      WorkersConfig      `mapstructure:"workers"`
	Limits       LimitsConfig       `mapstructure:"limits"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig holds identity configuration.
type AuthConfig struct {
	// SharedSecret, when set, must arrive in X-Gateway-Secret.
	SharedSecret string `mapstructure:"shared_secret"`

	// JWTSecret enables HS256 bearer tokens. Empty rejects bearer tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// SecurityConfig holds the secret used to encrypt donor DNS tokens.
// Set via PAGEHOST_SECURITY_MASTER_KEY.
type SecurityConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

// DNSConfig tunes every DNS provider.
type DNSConfig struct {
	// ProbePolicy is fail-open or fail-closed.
	ProbePolicy string `mapstructure:"probe_policy"`

	// RateLimit is requests per second per provider zone; 0 disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`

	// AllowMemory accepts the in-process provider. Development only.
	AllowMemory bool `mapstructure:"allow_memory"`
}

// DomainsConfig lists the platform-owned domains, inline or in a YAML file.
type DomainsConfig struct {
	Platform []allocator.PlatformDomain `mapstructure:"platform"`
	File     string                     `mapstructure:"file"`
}

// PublisherConfig selects and configures the repository host.
type PublisherConfig struct {
	// Backend is github or memory.
	Backend string `mapstructure:"backend"`

	// Token is the platform credential used when a caller carries none.
	Token   string        `mapstructure:"token"`
	Org     string        `mapstructure:"org"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`

	// MemoryOwner names the fake hosting account of the memory backend.
	MemoryOwner string `mapstructure:"memory_owner"`
}

// OrchestratorConfig holds publish pipeline configuration.
type OrchestratorConfig struct {
	Compensate          bool          `mapstructure:"compensate"`
	CompensationTimeout time.Duration `mapstructure:"compensation_timeout"`
}

// WorkersConfig holds background worker configuration.
type WorkersConfig struct {
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	StaleInterval time.Duration `mapstructure:"stale_interval"`

	PropagationEnabled       bool          `mapstructure:"propagation_enabled"`
	PropagationInterval      time.Duration `mapstructure:"propagation_interval"`
	PropagationMaxConcurrent int           `mapstructure:"propagation_max_concurrent"`
}

// LimitsConfig bounds what one publish may upload.
type LimitsConfig struct {
	MaxFiles          int      `mapstructure:"max_files"`
	MaxTotalBytes     int64    `mapstructure:"max_total_bytes"`
	MaxFileBytes      int64    `mapstructure:"max_file_bytes"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	MaxPagesPerOwner  int      `mapstructure:"max_pages_per_owner"`
}

// FilePolicy converts the limits into the policy the orchestrator applies.
func (c LimitsConfig) FilePolicy() limits.FilePolicy {
	return limits.FilePolicy{
		MaxFiles:          c.MaxFiles,
		MaxTotalBytes:     c.MaxTotalBytes,
		MaxFileBytes:      c.MaxFileBytes,
		AllowedExtensions: c.AllowedExtensions,
		MaxPagesPerOwner:  c.MaxPagesPerOwner,
	}
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 80<<20)
	v.SetDefault("database.dsn", "./data/pagehost.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.shared_secret", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("security.master_key", "")

	v.SetDefault("dns.probe_policy", string(coredns.FailOpen))
	v.SetDefault("dns.rate_limit", 4.0)
	v.SetDefault("dns.burst", 4)
	v.SetDefault("dns.allow_memory", false)

	v.SetDefault("domains.file", "")

	v.SetDefault("publisher.backend", "github")
	v.SetDefault("publisher.token", "")
	v.SetDefault("publisher.org", "")
	v.SetDefault("publisher.base_url", "")
	v.SetDefault("publisher.timeout", "30s")
	v.SetDefault("publisher.memory_owner", "pagehost-dev")

	v.SetDefault("orchestrator.compensate", true)
	v.SetDefault("orchestrator.compensation_timeout", "2m")

	v.SetDefault("workers.stale_after", "15m")
	v.SetDefault("workers.stale_interval", "1m")
	v.SetDefault("workers.propagation_enabled", true)
	v.SetDefault("workers.propagation_interval", "5m")
	v.SetDefault("workers.propagation_max_concurrent", 5)

	policy := limits.DefaultFilePolicy()
	v.SetDefault("limits.max_files", policy.MaxFiles)
	v.SetDefault("limits.max_total_bytes", policy.MaxTotalBytes)
	v.SetDefault("limits.max_file_bytes", policy.MaxFileBytes)
	v.SetDefault("limits.allowed_extensions", policy.AllowedExtensions)
	v.SetDefault("limits.max_pages_per_owner", 0)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("PAGEHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Domains.File != "" {
		fromFile, err := allocator.LoadPlatformDomains(cfg.Domains.File)
		if err != nil {
			return nil, err
		}
		cfg.Domains.Platform = append(cfg.Domains.Platform, fromFile...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Security.MasterKey) < 16 {
		errs = append(errs, errors.New("security.master_key must be at least 16 characters"))
	}
	if len(c.Domains.Platform) == 0 {
		errs = append(errs, errors.New("at least one platform domain is required (domains.platform or domains.file)"))
	}
	for i, d := range c.Domains.Platform {
		if d.Name == "" || d.Provider == "" {
			errs = append(errs, fmt.Errorf("domains.platform[%d]: name and provider are required", i))
		}
	}
	if _, err := coredns.ParseProbePolicy(c.DNS.ProbePolicy); err != nil {
		errs = append(errs, fmt.Errorf("dns.probe_policy: %w", err))
	}
	switch c.Publisher.Backend {
	case "github", "memory":
	default:
		errs = append(errs, fmt.Errorf("publisher.backend: unknown backend %q", c.Publisher.Backend))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}

	return errors.Join(errs...)
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
