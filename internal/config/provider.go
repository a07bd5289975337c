package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alechenninger/tollgate/internal/backend"
	"github.com/alechenninger/tollgate/internal/clock"
	"github.com/alechenninger/tollgate/internal/engine"
	"github.com/alechenninger/tollgate/internal/trust"
)

// Provider builds components from configuration. Components are constructed
// on demand and cached so shared dependencies are only built once.
type Provider struct {
	cfg *Config

	logger  *slog.Logger
	matcher *engine.Matcher
	authz   backend.Authorizer
}

// NewProvider creates a component provider for the given configuration
func NewProvider(cfg *Config) *Provider {
	return &Provider{cfg: cfg}
}

// Logger builds the application logger from observability configuration
func (p *Provider) Logger() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}

	level := slog.LevelInfo
	format := "json"
	if obs := p.cfg.Observability; obs != nil {
		switch obs.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		if obs.LogFormat != "" {
			format = obs.LogFormat
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	p.logger = slog.New(handler)
	return p.logger
}

// Matcher compiles the configured services into the matching engine
func (p *Provider) Matcher() (*engine.Matcher, error) {
	if p.matcher != nil {
		return p.matcher, nil
	}

	services, err := BuildServices(p.cfg.Services)
	if err != nil {
		return nil, fmt.Errorf("invalid services config: %w", err)
	}

	p.matcher = engine.NewMatcher(services, p.Logger())
	return p.matcher, nil
}

// Authorizer builds the backend client, wrapped with decision caching when
// enabled
func (p *Provider) Authorizer() (backend.Authorizer, error) {
	if p.authz != nil {
		return p.authz, nil
	}

	if p.cfg.Backend == nil || p.cfg.Backend.Upstream.URL == "" {
		return nil, fmt.Errorf("backend upstream is required")
	}

	client, err := backend.NewClient(backend.ClientConfig{
		BaseURL:    p.cfg.Backend.Upstream.URL,
		Timeout:    time.Duration(p.cfg.Backend.Upstream.Timeout) * time.Millisecond,
		Extensions: p.cfg.Backend.Extensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	cacheCfg := p.cfg.Cache
	if cacheCfg == nil || !cacheCfg.Enabled {
		p.authz = client
		return p.authz, nil
	}

	ttl, err := parseDuration(cacheCfg.TTL, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid cache ttl: %w", err)
	}

	p.authz = backend.NewCachingAuthorizer(client, backend.CachingConfig{
		GroupName:      cacheCfg.GroupName,
		CacheSizeBytes: cacheCfg.CacheSize,
		TTL:            ttl,
		Clock:          clock.NewSystemClock(),
	})
	return p.authz, nil
}

// Validator builds the optional local JWT validator. Returns nil when
// jwt_authn is not configured.
func (p *Provider) Validator(ctx context.Context) (trust.Validator, error) {
	jwtCfg := p.cfg.JWTAuthn
	if jwtCfg == nil {
		return nil, nil
	}

	refresh, err := parseDuration(jwtCfg.RefreshInterval, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt_authn refresh_interval: %w", err)
	}

	validator, err := trust.NewJWTValidator(ctx, trust.JWTValidatorConfig{
		Issuer:          jwtCfg.Issuer,
		JWKSURL:         jwtCfg.JWKSURL,
		RefreshInterval: refresh,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT validator: %w", err)
	}
	return validator, nil
}

// GRPCPort returns the configured gRPC port, defaulting to 10003
func (p *Provider) GRPCPort() int {
	if p.cfg.Server.GRPCPort != 0 {
		return p.cfg.Server.GRPCPort
	}
	return 10003
}

// HTTPPort returns the configured HTTP port, defaulting to 8080
func (p *Provider) HTTPPort() int {
	if p.cfg.Server.HTTPPort != 0 {
		return p.cfg.Server.HTTPPort
	}
	return 8080
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
