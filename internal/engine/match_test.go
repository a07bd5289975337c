package engine

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alechenninger/tollgate/internal/policy"
)

// fakeRequest is a test Request over plain maps.
type fakeRequest struct {
	authority  string
	method     string
	path       string
	headers    map[string]string
	query      string
	properties map[string][]byte
}

func (r *fakeRequest) Authority() string { return r.authority }
func (r *fakeRequest) Method() string    { return r.method }
func (r *fakeRequest) Path() string      { return r.path }

func (r *fakeRequest) Header(name string) (string, bool) {
	v, ok := r.headers[name]
	return v, ok
}

func (r *fakeRequest) Headers() map[string]string { return r.headers }

func (r *fakeRequest) QueryPairs() []QueryPair {
	var out []QueryPair
	for _, part := range strings.Split(r.query, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		k, _ := url.QueryUnescape(key)
		v, _ := url.QueryUnescape(value)
		out = append(out, QueryPair{Key: k, Value: v})
	}
	return out
}

func (r *fakeRequest) Property(path []string) ([]byte, bool) {
	v, ok := r.properties[strings.Join(path, "/")]
	return v, ok
}

func userKeyService() *policy.Service {
	return &policy.Service{
		ID:          "2555417834780",
		Token:       "service-token",
		Authorities: []string{"api.example.com"},
		Credentials: []policy.CredentialParameter{
			{
				Kind: policy.KindUserKey,
				Keys: []string{"x-api-key"},
				Locations: []policy.Location{
					{Type: policy.LocationHeader},
					{Type: policy.LocationQueryString},
				},
			},
		},
		MappingRules: []policy.MappingRule{
			{Method: "GET", Pattern: "/", Usages: []policy.Usage{{Name: "hits", Delta: 1}}},
		},
	}
}

func TestAuthorizeHeaderCredential(t *testing.T) {
	m := NewMatcher([]*policy.Service{userKeyService()}, nil)

	req := &fakeRequest{
		authority: "api.example.com",
		method:    "GET",
		path:      "/",
		headers:   map[string]string{"x-api-key": "abc123"},
	}

	result, err := m.Authorize(req)
	require.NoError(t, err)

	assert.Equal(t, "2555417834780", result.Service.ID)
	assert.Equal(t, policy.KindUserKey, result.Kind)
	assert.Equal(t, AppUserKey, result.AppKind)
	assert.Equal(t, "abc123", result.Application)
	assert.Equal(t, Usage{"hits": 1}, result.Usage)
}

func TestAuthorizeQueryCredential(t *testing.T) {
	m := NewMatcher([]*policy.Service{userKeyService()}, nil)

	req := &fakeRequest{
		authority: "api.example.com",
		method:    "GET",
		path:      "/",
		query:     "foo=bar&x-api-key=qkey",
	}

	result, err := m.Authorize(req)
	require.NoError(t, err)
	assert.Equal(t, "qkey", result.Application)
}

func TestAuthorizeNoServiceMatched(t *testing.T) {
	m := NewMatcher([]*policy.Service{userKeyService()}, nil)

	req := &fakeRequest{authority: "other.example.com", method: "GET", path: "/"}

	_, err := m.Authorize(req)
	assert.ErrorIs(t, err, ErrNoServiceMatched)
}

func TestAuthorizeCredentialsMissing(t *testing.T) {
	svc := userKeyService()
	svc.Credentials = nil
	m := NewMatcher([]*policy.Service{svc}, nil)

	req := &fakeRequest{authority: "api.example.com", method: "GET", path: "/"}

	_, err := m.Authorize(req)
	var cerr *policy.CredentialsMissingError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, svc.ID, cerr.ServiceID)
}

func TestAuthorizeCredentialsNotFound(t *testing.T) {
	m := NewMatcher([]*policy.Service{userKeyService()}, nil)

	req := &fakeRequest{
		authority: "api.example.com",
		method:    "GET",
		path:      "/",
		headers:   map[string]string{"unrelated": "header"},
	}

	_, err := m.Authorize(req)
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
}

func TestAuthorizeFirstMatchWins(t *testing.T) {
	svc := userKeyService()
	svc.Credentials = []policy.CredentialParameter{
		{
			Kind:      policy.KindAppID,
			Keys:      []string{"x-app-id"},
			Locations: []policy.Location{{Type: policy.LocationHeader}},
		},
		{
			Kind:      policy.KindUserKey,
			Keys:      []string{"x-api-key"},
			Locations: []policy.Location{{Type: policy.LocationHeader}},
		},
	}
	m := NewMatcher([]*policy.Service{svc}, nil)

	t.Run("second parameter resolves when first cannot", func(t *testing.T) {
		req := &fakeRequest{
			authority: "api.example.com",
			method:    "GET",
			path:      "/",
			headers:   map[string]string{"x-api-key": "abc123"},
		}

		result, err := m.Authorize(req)
		require.NoError(t, err)
		assert.Equal(t, policy.KindUserKey, result.Kind)
		assert.Equal(t, "abc123", result.Application)
	})

	t.Run("first parameter wins when both resolve", func(t *testing.T) {
		req := &fakeRequest{
			authority: "api.example.com",
			method:    "GET",
			path:      "/",
			headers: map[string]string{
				"x-app-id":  "the-app",
				"x-api-key": "abc123",
			},
		}

		result, err := m.Authorize(req)
		require.NoError(t, err)
		assert.Equal(t, policy.KindAppID, result.Kind)
		assert.Equal(t, AppID, result.AppKind)
		assert.Equal(t, "the-app", result.Application)
	})
}

func TestAuthorizeUnimplementedKind(t *testing.T) {
	svc := userKeyService()
	svc.Credentials[0].Kind = policy.KindAppKey

	m := NewMatcher([]*policy.Service{svc}, nil)
	req := &fakeRequest{
		authority: "api.example.com",
		method:    "GET",
		path:      "/",
		headers:   map[string]string{"x-api-key": "abc123"},
	}

	_, err := m.Authorize(req)
	var uerr *UnimplementedKindError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, policy.KindAppKey, uerr.Kind)
	assert.NotErrorIs(t, err, ErrCredentialsNotFound)
}

func TestAuthorizeOIDCDefaultPath(t *testing.T) {
	svc := userKeyService()
	svc.Credentials = []policy.CredentialParameter{
		{
			Kind: policy.KindOIDC,
			Keys: []string{"azp", "aud"},
			Locations: []policy.Location{
				{
					Type:   policy.LocationProperty,
					Format: policy.FormatProtobufStruct,
					Ops: []policy.Operation{
						policy.Lookup{Selector: policy.ByKey("verified_jwt")},
						policy.Or{Ops: []policy.Operation{
							policy.Lookup{Selector: policy.ByKey("azp"), Output: policy.FormatString},
							policy.Lookup{Selector: policy.ByKey("aud"), Output: policy.FormatString},
						}},
					},
				},
			},
		},
	}
	m := NewMatcher([]*policy.Service{svc}, nil)

	st, err := structpb.NewStruct(map[string]any{
		"verified_jwt": map[string]any{"azp": "test", "aud": "test-aud"},
	})
	require.NoError(t, err)
	raw, err := proto.Marshal(st)
	require.NoError(t, err)

	req := &fakeRequest{
		authority: "api.example.com",
		method:    "GET",
		path:      "/",
		properties: map[string][]byte{
			"metadata/filter_metadata/envoy.filters.http.jwt_authn": raw,
		},
	}

	result, err := m.Authorize(req)
	require.NoError(t, err)
	assert.Equal(t, policy.KindOIDC, result.Kind)
	assert.Equal(t, AppID, result.AppKind)
	assert.Equal(t, "test", result.Application)
}

type headerCondition struct {
	header string
	want   string
}

func (c *headerCondition) Allows(method, path string, headers map[string]string) (bool, error) {
	return headers[c.header] == c.want, nil
}

func TestMatchUsage(t *testing.T) {
	svc := userKeyService()
	svc.MappingRules = []policy.MappingRule{
		{Method: "get", Pattern: "/", Usages: []policy.Usage{{Name: "hits", Delta: 1}}},
		{Method: "GET", Pattern: "/productpage", Usages: []policy.Usage{{Name: "hits", Delta: 1}, {Name: "ticks", Delta: 2}}},
		{Method: "POST", Pattern: "/", Usages: []policy.Usage{{Name: "writes", Delta: 1}}},
	}
	m := NewMatcher([]*policy.Service{svc}, nil)

	t.Run("same metric sums across matching rules", func(t *testing.T) {
		req := &fakeRequest{
			authority: "api.example.com",
			method:    "GET",
			path:      "/productpage",
			headers:   map[string]string{"x-api-key": "abc123"},
		}

		result, err := m.Authorize(req)
		require.NoError(t, err)
		assert.Equal(t, Usage{"hits": 2, "ticks": 2}, result.Usage)
	})

	t.Run("method matches case-insensitively", func(t *testing.T) {
		req := &fakeRequest{
			authority: "api.example.com",
			method:    "POST",
			path:      "/anything",
			headers:   map[string]string{"x-api-key": "abc123"},
		}

		result, err := m.Authorize(req)
		require.NoError(t, err)
		assert.Equal(t, Usage{"writes": 1}, result.Usage)
	})

	t.Run("no matching rule yields empty usage", func(t *testing.T) {
		req := &fakeRequest{
			authority: "api.example.com",
			method:    "DELETE",
			path:      "/",
			headers:   map[string]string{"x-api-key": "abc123"},
		}

		result, err := m.Authorize(req)
		require.NoError(t, err)
		assert.Empty(t, result.Usage)
	})

	t.Run("condition gates a rule", func(t *testing.T) {
		svc := userKeyService()
		svc.MappingRules = []policy.MappingRule{
			{Method: "GET", Pattern: "/", Usages: []policy.Usage{{Name: "hits", Delta: 1}}},
			{
				Method:    "GET",
				Pattern:   "/",
				Usages:    []policy.Usage{{Name: "premium", Delta: 1}},
				Condition: &headerCondition{header: "x-tier", want: "premium"},
			},
		}
		m := NewMatcher([]*policy.Service{svc}, nil)

		req := &fakeRequest{
			authority: "api.example.com",
			method:    "GET",
			path:      "/",
			headers:   map[string]string{"x-api-key": "abc123"},
		}
		result, err := m.Authorize(req)
		require.NoError(t, err)
		assert.Equal(t, Usage{"hits": 1}, result.Usage)

		req.headers["x-tier"] = "premium"
		result, err = m.Authorize(req)
		require.NoError(t, err)
		assert.Equal(t, Usage{"hits": 1, "premium": 1}, result.Usage)
	})
}
