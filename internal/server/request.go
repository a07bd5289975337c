package server

import (
	"encoding/json"
	"net/url"
	"strings"

	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alechenninger/tollgate/internal/engine"
)

// checkRequest adapts an Envoy CheckRequest to the engine's request surface.
// Everything the engine asks for is answered from data already present in
// the CheckRequest, so all accessors are synchronous.
type checkRequest struct {
	authority string
	method    string
	path      string
	headers   map[string]string
	query     []engine.QueryPair

	// filterMetadata is MetadataContext filter metadata, possibly
	// overlaid with locally verified JWT claims
	filterMetadata map[string]*structpb.Struct
}

func newCheckRequest(req *authv3.CheckRequest, extraMetadata map[string]*structpb.Struct) *checkRequest {
	httpReq := req.GetAttributes().GetRequest().GetHttp()

	rawPath := httpReq.GetPath()
	path := rawPath
	rawQuery := ""
	if i := strings.IndexByte(rawPath, '?'); i >= 0 {
		path = rawPath[:i]
		rawQuery = rawPath[i+1:]
	}

	filterMetadata := make(map[string]*structpb.Struct)
	for name, md := range req.GetAttributes().GetMetadataContext().GetFilterMetadata() {
		filterMetadata[name] = md
	}
	for name, md := range extraMetadata {
		filterMetadata[name] = md
	}

	return &checkRequest{
		authority:      httpReq.GetHost(),
		method:         httpReq.GetMethod(),
		path:           path,
		headers:        httpReq.GetHeaders(),
		query:          parseQuery(rawQuery),
		filterMetadata: filterMetadata,
	}
}

// parseQuery decodes the raw query preserving parameter order. Undecodable
// pairs are kept verbatim rather than dropped.
func parseQuery(rawQuery string) []engine.QueryPair {
	if rawQuery == "" {
		return nil
	}
	parts := strings.Split(rawQuery, "&")
	pairs := make([]engine.QueryPair, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		pairs = append(pairs, engine.QueryPair{Key: key, Value: value})
	}
	return pairs
}

func (r *checkRequest) Authority() string { return r.authority }
func (r *checkRequest) Method() string    { return r.method }
func (r *checkRequest) Path() string      { return r.path }

// Header looks up a request header. Envoy hands headers lowercased; config
// key names are normalized here so either spelling works.
func (r *checkRequest) Header(name string) (string, bool) {
	value, ok := r.headers[strings.ToLower(name)]
	return value, ok
}

func (r *checkRequest) Headers() map[string]string {
	return r.headers
}

func (r *checkRequest) QueryPairs() []engine.QueryPair {
	return r.query
}

// Property resolves a metadata property path. Supported paths are rooted at
// metadata/filter_metadata/<filter>, matching the shape jwt_authn metadata is
// addressed by. Struct-shaped leaves are returned in protobuf encoding,
// string leaves raw, and anything else as JSON.
func (r *checkRequest) Property(path []string) ([]byte, bool) {
	if len(path) < 3 || path[0] != "metadata" || path[1] != "filter_metadata" {
		return nil, false
	}

	md, ok := r.filterMetadata[path[2]]
	if !ok || md == nil {
		return nil, false
	}

	if len(path) == 3 {
		return marshalStruct(md)
	}

	value, ok := walkStruct(md, path[3:])
	if !ok {
		return nil, false
	}
	return marshalValue(value)
}

func walkStruct(s *structpb.Struct, path []string) (*structpb.Value, bool) {
	var current *structpb.Value
	for i, segment := range path {
		if s == nil {
			return nil, false
		}
		v, ok := s.GetFields()[segment]
		if !ok {
			return nil, false
		}
		current = v
		if i < len(path)-1 {
			s = v.GetStructValue()
		}
	}
	return current, true
}

func marshalStruct(s *structpb.Struct) ([]byte, bool) {
	raw, err := proto.Marshal(s)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func marshalValue(v *structpb.Value) ([]byte, bool) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return []byte(kind.StringValue), true
	case *structpb.Value_StructValue:
		return marshalStruct(kind.StructValue)
	default:
		raw, err := json.Marshal(v.AsInterface())
		if err != nil {
			return nil, false
		}
		return raw, true
	}
}
