package engine

import (
	"encoding/json"
	"log/slog"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alechenninger/tollgate/internal/pairs"
	"github.com/alechenninger/tollgate/internal/policy"
)

// QueryPair is one decoded query-string parameter, in request order.
type QueryPair struct {
	Key   string
	Value string
}

// Request is the synchronous accessor surface the engine needs from the host
// integration. All calls complete immediately; none block.
type Request interface {
	// Authority is the host[:port] the request targets.
	Authority() string

	// Method is the HTTP method.
	Method() string

	// Path is the request path without the query string.
	Path() string

	// Header returns the value of a request header. When the proxy folds
	// duplicate headers the folded value is returned as-is; the engine
	// takes the first occurrence it is handed and does not re-split.
	Header(name string) (string, bool)

	// Headers returns all request headers, used by mapping-rule
	// conditions.
	Headers() map[string]string

	// QueryPairs returns the decoded query parameters in request order.
	QueryPairs() []QueryPair

	// Property resolves a host-exposed structured property path to its
	// raw byte encoding. A false return means the path is absent, which
	// is common and not an error.
	Property(path []string) ([]byte, bool)
}

// resolveLocation tries to produce a credential value from one location.
// A (Value{}, "", false) return means this location yielded nothing; decode
// and lookup failures are logged and treated the same way, eliminating only
// this candidate.
func (m *Matcher) resolveLocation(req Request, param *policy.CredentialParameter, loc *policy.Location) (Value, policy.Format, bool) {
	switch loc.Type {
	case policy.LocationHeader:
		return m.resolveHeader(req, param, loc)
	case policy.LocationQueryString:
		return m.resolveQueryString(req, param, loc)
	case policy.LocationProperty:
		return m.resolveProperty(req, param, loc)
	default:
		m.logger.Warn("unknown location type", "type", loc.Type)
		return Value{}, "", false
	}
}

// candidateKeys returns the acceptable key names for a location: local
// overrides first, then the parameter-level keys, in declaration order.
func candidateKeys(param *policy.CredentialParameter, loc *policy.Location) []string {
	keys := make([]string, 0, len(loc.Keys)+len(param.Keys))
	keys = append(keys, loc.Keys...)
	keys = append(keys, param.Keys...)
	return keys
}

func (m *Matcher) resolveHeader(req Request, param *policy.CredentialParameter, loc *policy.Location) (Value, policy.Format, bool) {
	for _, key := range candidateKeys(param, loc) {
		raw, ok := req.Header(key)
		if !ok {
			continue
		}
		out, err := ApplyAll(StringValue(raw), loc.Ops)
		if err != nil {
			m.logger.Debug("error decoding header credential", "header", key, "error", err)
			return Value{}, "", false
		}
		return out, policy.FormatString, true
	}
	return Value{}, "", false
}

func (m *Matcher) resolveQueryString(req Request, param *policy.CredentialParameter, loc *policy.Location) (Value, policy.Format, bool) {
	query := req.QueryPairs()
	for _, key := range candidateKeys(param, loc) {
		for _, qp := range query {
			if qp.Key != key {
				continue
			}
			out, err := ApplyAll(StringValue(qp.Value), loc.Ops)
			if err != nil {
				m.logger.Debug("error decoding query credential", "param", key, "error", err)
				return Value{}, "", false
			}
			return out, policy.FormatString, true
		}
	}
	return Value{}, "", false
}

func (m *Matcher) resolveProperty(req Request, param *policy.CredentialParameter, loc *policy.Location) (Value, policy.Format, bool) {
	path := loc.Path
	if len(path) == 0 && param.Kind == policy.KindOIDC {
		path = policy.DefaultOIDCMetadataPath
	}
	if len(path) == 0 {
		return Value{}, "", false
	}

	raw, ok := req.Property(path)
	if !ok {
		m.logger.Debug("property path not found", "path", strings.Join(path, "/"))
		return Value{}, "", false
	}

	initial, err := parsePropertyValue(raw, loc.Format)
	if err != nil {
		m.logger.Debug("error parsing property value", "path", strings.Join(path, "/"),
			"format", loc.Format, "error", err)
		return Value{}, "", false
	}

	out, err := ApplyAll(initial, loc.Ops)
	if err != nil {
		m.logger.Debug("error decoding property credential", "path", strings.Join(path, "/"), "error", err)
		return Value{}, "", false
	}
	return out, loc.Format, true
}

// parsePropertyValue interprets raw property bytes according to the
// location's declared format before the pipeline runs. Unspecified means the
// bytes pass through untouched.
func parsePropertyValue(raw []byte, format policy.Format) (Value, error) {
	switch format {
	case policy.FormatPairs:
		decoded, err := pairs.Decode(raw)
		if err != nil {
			return Value{}, err
		}
		return PairsValue(decoded), nil
	case policy.FormatProtobufStruct:
		var st structpb.Struct
		if err := proto.Unmarshal(raw, &st); err != nil {
			return Value{}, err
		}
		return StructValue(&st), nil
	case policy.FormatJSON:
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return Value{}, err
		}
		return JSONValue(out), nil
	case policy.FormatString:
		return StringValue(string(raw)), nil
	default:
		return BytesValue(raw), nil
	}
}

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
