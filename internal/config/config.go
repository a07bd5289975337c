// Package config defines tollgate's configuration schema, loads it from
// files, environment variables and flags, and compiles it into the policy
// model the engine interprets.
package config

// Config is the root configuration structure for tollgate
type Config struct {
	// Server configuration (gRPC and HTTP ports)
	Server ServerConfig `koanf:"server"`

	// System is the account-management system tollgate reports to
	System SystemConfig `koanf:"system"`

	// Backend is the authorization backend that answers authrep calls
	Backend *BackendConfig `koanf:"backend"`

	// Services are the configured backend services, in match order
	Services []ServiceConfig `koanf:"services"`

	// JWTAuthn optionally verifies Bearer JWTs locally and exposes the
	// verified claims under the well-known OIDC metadata path
	JWTAuthn *JWTAuthnConfig `koanf:"jwt_authn"`

	// Cache optionally caches authorization decisions
	Cache *CacheConfig `koanf:"cache"`

	// Observability configuration (logging)
	Observability *ObservabilityConfig `koanf:"observability"`
}

// ServerConfig contains network-level server settings
type ServerConfig struct {
	// GRPCPort is the port for the ext_authz gRPC service
	GRPCPort int `koanf:"grpc_port"`

	// HTTPPort is the port for HTTP endpoints (metrics, health)
	HTTPPort int `koanf:"http_port"`
}

// UpstreamConfig identifies an upstream HTTP endpoint
type UpstreamConfig struct {
	// Name labels the upstream in logs
	Name string `koanf:"name"`

	// URL is the base URL, scheme and authority included
	URL string `koanf:"url"`

	// Timeout is the per-call timeout in milliseconds
	Timeout int `koanf:"timeout"`
}

// SystemConfig describes the account-management system
type SystemConfig struct {
	Name     string         `koanf:"name"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Token    string         `koanf:"token"`
}

// BackendConfig describes the authorization backend
type BackendConfig struct {
	Name     string         `koanf:"name"`
	Upstream UpstreamConfig `koanf:"upstream"`

	// Extensions are backend protocol extensions, e.g. "no_body"
	Extensions []string `koanf:"extensions"`
}

// ServiceConfig is one declared service
type ServiceConfig struct {
	ID          string `koanf:"id"`
	Token       string `koanf:"token"`
	Authorities []string `koanf:"authorities"`

	// Credentials are tried in declaration order; first resolved wins
	Credentials []CredentialConfig `koanf:"credentials"`

	MappingRules []MappingRuleConfig `koanf:"mapping_rules"`
}

// CredentialConfig is one credential parameter
type CredentialConfig struct {
	// Kind is one of: user_key, app_id, app_key, oidc
	Kind string `koanf:"kind"`

	// Keys are the acceptable key names, in trial order
	Keys []string `koanf:"keys"`

	Locations []LocationConfig `koanf:"locations"`
}

// LocationConfig is one candidate credential location
type LocationConfig struct {
	// Location is one of: header, query_string, property
	Location string `koanf:"location"`

	// Keys locally overrides/extends the parameter keys
	Keys []string `koanf:"keys"`

	// Path addresses a host property (property locations only).
	// When absent for an oidc credential the well-known jwt_authn
	// metadata path is used.
	Path []string `koanf:"path"`

	// Format is the expected raw property shape: string, json,
	// protobuf_struct, pairs
	Format string `koanf:"format"`

	// Ops is the value-transformation pipeline
	Ops []OperationConfig `koanf:"ops"`
}

// OperationConfig is one pipeline step. Exactly one field may be set.
type OperationConfig struct {
	// Decode is one of: base64dec, base64urldec, protobuf, json
	Decode string `koanf:"decode"`

	Lookup *LookupConfig `koanf:"lookup"`

	// And pipes the current value through each step, failing fast
	And []OperationConfig `koanf:"and"`

	// Or tries each step against the same input, first success wins
	Or []OperationConfig `koanf:"or"`
}

// LookupConfig selects a sub-value by key or position
type LookupConfig struct {
	Input    string `koanf:"input"`
	Key      *string `koanf:"key"`
	Position *int    `koanf:"position"`
	Output   string `koanf:"output"`
}

// MappingRuleConfig associates method+path-prefix with usage deltas
type MappingRuleConfig struct {
	Method  string        `koanf:"method"`
	Pattern string        `koanf:"pattern"`
	Usages  []UsageConfig `koanf:"usages"`

	// Condition is an optional CEL predicate over request attributes
	Condition string `koanf:"condition"`
}

// UsageConfig is one metric delta
type UsageConfig struct {
	Name  string `koanf:"name"`
	Delta int64  `koanf:"delta"`
}

// JWTAuthnConfig configures local JWT verification
type JWTAuthnConfig struct {
	// Issuer is the expected iss claim
	Issuer string `koanf:"issuer"`

	// JWKSURL is where the verification keys are fetched from
	JWKSURL string `koanf:"jwks_url"`

	// RefreshInterval is the minimum JWKS refresh interval,
	// a duration string like "15m"
	RefreshInterval string `koanf:"refresh_interval"`
}

// CacheConfig configures the authorization decision cache
type CacheConfig struct {
	Enabled bool `koanf:"enabled"`

	// GroupName names the groupcache group (default "tollgate:authrep")
	GroupName string `koanf:"group_name"`

	// CacheSize is the cache size in bytes (default 64MB)
	CacheSize int64 `koanf:"cache_size"`

	// TTL is how long a decision stays fresh, a duration string like "30s"
	TTL string `koanf:"ttl"`
}

// ObservabilityConfig configures application observability
type ObservabilityConfig struct {
	// LogLevel is one of: debug, info, warn, error (default info)
	LogLevel string `koanf:"log_level"`

	// LogFormat is one of: json, text (default json)
	LogFormat string `koanf:"log_format"`
}
