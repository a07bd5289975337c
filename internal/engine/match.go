package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/alechenninger/tollgate/internal/policy"
)

// Terminal match errors. When the engine returns one of these the request
// must be denied; nothing is forwarded upstream.
var (
	ErrNoServiceMatched    = errors.New("no known service matched")
	ErrCredentialsNotFound = errors.New("no credentials found in request")
)

// UnimplementedKindError means configuration declared a credential kind this
// engine cannot map to an outbound application identifier. Terminal and
// operator-actionable.
type UnimplementedKindError struct {
	Kind policy.ApplicationKind
}

func (e *UnimplementedKindError) Error() string {
	return fmt.Sprintf("unimplemented credentials kind %q", e.Kind)
}

// AppKind is the outbound application-identifier shape.
type AppKind string

const (
	AppUserKey AppKind = "user_key"
	AppID      AppKind = "app_id"
)

// Usage accumulates per-metric deltas for one request. Deltas for the same
// metric sum.
type Usage map[string]int64

// Add accumulates a delta for a metric.
func (u Usage) Add(metric string, delta int64) {
	u[metric] += delta
}

// Result is a fully resolved authorization input for the outbound call
// builder.
type Result struct {
	Service *policy.Service

	// Kind is the resolved credential parameter's declared kind.
	Kind policy.ApplicationKind

	// AppKind is Kind mapped to the outbound identifier shape. OIDC
	// resolves to an app-id-shaped credential by convention.
	AppKind AppKind

	// Application is the resolved identifier string.
	Application string

	// Format is the resolved location's input format, carried through for
	// diagnostics.
	Format policy.Format

	Usage Usage
}

// Matcher runs the credential and mapping-rule matching for requests against
// a shared, read-only service list.
type Matcher struct {
	services []*policy.Service
	logger   *slog.Logger
}

// NewMatcher creates a matcher over the configured services. The service
// slice must not be mutated afterwards.
func NewMatcher(services []*policy.Service, logger *slog.Logger) *Matcher {
	return &Matcher{
		services: services,
		logger:   defaultLogger(logger),
	}
}

// Authorize resolves the request's service, credential and usage deltas.
//
// Failure semantics: the returned errors (ErrNoServiceMatched,
// ErrCredentialsNotFound, *policy.CredentialsMissingError,
// *UnimplementedKindError, and string-projection failures) are all terminal.
// Per-location resolution failures are not: they only eliminate one candidate
// and iteration continues.
func (m *Matcher) Authorize(req Request) (*Result, error) {
	svc := m.matchService(req.Authority())
	if svc == nil {
		return nil, ErrNoServiceMatched
	}

	credentials, err := svc.UsableCredentials()
	if err != nil {
		return nil, err
	}

	value, format, kind, ok := m.resolveCredential(req, credentials)
	if !ok {
		return nil, ErrCredentialsNotFound
	}

	app, err := value.FinalString()
	if err != nil {
		// A resolved credential with no string projection is a policy
		// bug, not a missing credential. Fail loudly rather than let
		// it collapse into an empty identifier.
		return nil, fmt.Errorf("resolved credential has no identifier form: %w", err)
	}

	appKind, err := outboundKind(kind)
	if err != nil {
		return nil, err
	}

	usage := m.matchUsage(svc, req)

	return &Result{
		Service:     svc,
		Kind:        kind,
		AppKind:     appKind,
		Application: app,
		Format:      format,
		Usage:       usage,
	}, nil
}

// matchService selects the first configured service whose authority list
// contains the request authority.
func (m *Matcher) matchService(authority string) *policy.Service {
	for _, svc := range m.services {
		if svc.MatchAuthority(authority) {
			return svc
		}
	}
	return nil
}

// resolveCredential tries each credential parameter's locations in
// declaration order and stops at the first resolved value.
func (m *Matcher) resolveCredential(req Request, params []policy.CredentialParameter) (Value, policy.Format, policy.ApplicationKind, bool) {
	for i := range params {
		param := &params[i]
		for j := range param.Locations {
			value, format, ok := m.resolveLocation(req, param, &param.Locations[j])
			if ok {
				return value, format, param.Kind, true
			}
		}
	}
	return Value{}, "", "", false
}

func outboundKind(kind policy.ApplicationKind) (AppKind, error) {
	switch kind {
	case policy.KindUserKey:
		return AppUserKey, nil
	case policy.KindAppID, policy.KindOIDC:
		return AppID, nil
	default:
		return "", &UnimplementedKindError{Kind: kind}
	}
}

// matchUsage visits every mapping rule; multiple matching rules accumulate
// and same-metric deltas sum. There is no short-circuit on first match.
func (m *Matcher) matchUsage(svc *policy.Service, req Request) Usage {
	usage := make(Usage)
	method := req.Method()
	path := req.Path()

	for i := range svc.MappingRules {
		rule := &svc.MappingRules[i]
		if !rule.Matches(method, path) {
			continue
		}
		if rule.Condition != nil {
			ok, err := rule.Condition.Allows(method, path, req.Headers())
			if err != nil {
				m.logger.Warn("mapping rule condition failed, skipping rule",
					"service", svc.ID, "pattern", rule.Pattern, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		for _, u := range rule.Usages {
			usage.Add(u.Name, u.Delta)
		}
	}
	return usage
}
