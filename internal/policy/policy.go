// Package policy holds the declarative authorization model that the engine
// interprets: services, credential parameters, locations, operations, and
// mapping rules.
//
// The model is built once from configuration and shared read-only by every
// request-scoped resolution pass. Nothing in this package mutates after
// construction.
package policy

import (
	"fmt"
	"strings"
)

// ApplicationKind is the credential scheme a parameter resolves.
type ApplicationKind string

const (
	KindUserKey ApplicationKind = "user_key"
	KindAppID   ApplicationKind = "app_id"
	KindAppKey  ApplicationKind = "app_key"
	KindOIDC    ApplicationKind = "oidc"
)

// ParseApplicationKind parses the snake_case serialized form of a kind.
func ParseApplicationKind(s string) (ApplicationKind, error) {
	switch ApplicationKind(s) {
	case KindUserKey, KindAppID, KindAppKey, KindOIDC:
		return ApplicationKind(s), nil
	default:
		return "", fmt.Errorf("unknown credentials kind %q", s)
	}
}

// Format describes the shape of a value entering or leaving an operation.
type Format string

const (
	FormatString         Format = "string"
	FormatJSON           Format = "json"
	FormatProtobufStruct Format = "protobuf_struct"
	FormatPairs          Format = "pairs"
)

// ParseFormat parses a serialized format name. The empty string is allowed
// and means "unspecified".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatString, FormatJSON, FormatProtobufStruct, FormatPairs:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// DecodeKind selects a decode transformation.
type DecodeKind string

const (
	DecodeBase64    DecodeKind = "base64dec"
	DecodeBase64URL DecodeKind = "base64urldec"
	DecodeProtobuf  DecodeKind = "protobuf"
	DecodeJSON      DecodeKind = "json"
)

// ParseDecodeKind parses a serialized decode kind.
func ParseDecodeKind(s string) (DecodeKind, error) {
	switch DecodeKind(s) {
	case DecodeBase64, DecodeBase64URL, DecodeProtobuf, DecodeJSON:
		return DecodeKind(s), nil
	default:
		return "", fmt.Errorf("unknown decode kind %q", s)
	}
}

// Operation is one step of a declarative value-transformation pipeline.
// The set of implementations is closed: Decode, Lookup, And, Or.
type Operation interface {
	isOperation()
}

// Decode transforms the current value's bytes into a new value.
type Decode struct {
	Kind DecodeKind
}

// Selector picks an element out of a container value.
// The set of implementations is closed: ByKey, ByPosition.
type Selector interface {
	isSelector()
}

// ByKey selects a map/object entry by key.
type ByKey string

// ByPosition selects an array element by index.
type ByPosition int

func (ByKey) isSelector()      {}
func (ByPosition) isSelector() {}

// Lookup selects a sub-value from the current container value. A non-empty
// Input is a precondition: the incoming value must already have that shape
// or the lookup fails without inspecting the selector.
type Lookup struct {
	Input    Format
	Selector Selector
	Output   Format
}

// And pipes the current value through each operation in order, failing fast.
type And struct {
	Ops []Operation
}

// Or tries each operation against the same input value and takes the first
// success. If every child fails the resolver sees all collected errors.
type Or struct {
	Ops []Operation
}

func (Decode) isOperation() {}
func (Lookup) isOperation() {}
func (And) isOperation()    {}
func (Or) isOperation()     {}

// LocationType discriminates where a credential value is searched for.
type LocationType string

const (
	LocationHeader      LocationType = "header"
	LocationQueryString LocationType = "query_string"
	LocationProperty    LocationType = "property"
)

// DefaultOIDCMetadataPath is the well-known property path substituted when an
// OIDC credential's property location does not configure one. It points at the
// metadata exported by Envoy's jwt_authn filter. The default is a versioned
// convention shared with the upstream ecosystem, not a general fallback.
var DefaultOIDCMetadataPath = []string{"metadata", "filter_metadata", "envoy.filters.http.jwt_authn"}

// Location is one candidate place to find a credential value.
type Location struct {
	Type LocationType

	// Keys overrides/extends the parameter-level key names for this
	// location. Local keys are tried before the parameter's keys.
	Keys []string

	// Path addresses a host-exposed structured property. Only meaningful
	// for property locations.
	Path []string

	// Format is the expected shape of the raw property bytes. Only
	// meaningful for property locations.
	Format Format

	// Ops is the transformation pipeline applied to the raw value.
	Ops []Operation
}

// Condition gates a mapping rule on request attributes beyond method and path.
// Implementations are compiled ahead of time from declarative expressions.
type Condition interface {
	Allows(method, path string, headers map[string]string) (bool, error)
}

// Usage is one metric delta contributed by a matching mapping rule.
type Usage struct {
	Name  string
	Delta int64
}

// MappingRule associates (method, path-prefix) with usage deltas.
type MappingRule struct {
	Method  string
	Pattern string
	Usages  []Usage

	// Condition, when non-nil, must also hold for the rule to contribute.
	Condition Condition
}

// Matches reports whether the rule applies to the request. Methods compare
// case-insensitively; the pattern is a path prefix, not a glob or regex.
func (r *MappingRule) Matches(method, path string) bool {
	return strings.EqualFold(method, r.Method) && strings.HasPrefix(path, r.Pattern)
}

// CredentialParameter describes where and how to find one kind of credential.
// Parameters and their locations are tried in declaration order; the first
// resolved value wins.
type CredentialParameter struct {
	Kind      ApplicationKind
	Keys      []string
	Locations []Location
}

// CredentialsMissingError indicates a service configured without credentials.
// It is detected at match time, not load time, and is terminal for the request.
type CredentialsMissingError struct {
	ServiceID string
}

func (e *CredentialsMissingError) Error() string {
	return fmt.Sprintf("no credentials defined for service %q", e.ServiceID)
}

// Service is one configured backend service.
type Service struct {
	ID           string
	Token        string
	Authorities  []string
	Credentials  []CredentialParameter
	MappingRules []MappingRule
}

// MatchAuthority reports whether the request authority selects this service.
// Comparison is exact and case-sensitive.
func (s *Service) MatchAuthority(authority string) bool {
	for _, a := range s.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}

// UsableCredentials returns the credential parameters, or an error if the
// service has none configured.
func (s *Service) UsableCredentials() ([]CredentialParameter, error) {
	if len(s.Credentials) == 0 {
		return nil, &CredentialsMissingError{ServiceID: s.ID}
	}
	return s.Credentials, nil
}
