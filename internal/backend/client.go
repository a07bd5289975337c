// Package backend reports authorization requests to the upstream
// accounting backend and interprets its answers.
package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const authrepPath = "/transactions/authrep.xml"

// Request is one authorize-and-report call. The JSON form doubles as a
// distributed cache key, so it must stay reversible.
type Request struct {
	// ServiceID identifies the service being called
	ServiceID string `json:"service_id"`

	// ServiceToken authenticates this reporter for the service
	ServiceToken string `json:"service_token,omitempty"`

	// UserKey is set for user_key credentials
	UserKey string `json:"user_key,omitempty"`

	// AppID is set for app_id and oidc credentials
	AppID string `json:"app_id,omitempty"`

	// Usage is the metric deltas to report
	Usage map[string]int64 `json:"usage,omitempty"`
}

// Decision is the backend's answer for a request
type Decision struct {
	// Authorized reports whether the call is allowed
	Authorized bool

	// Reason is the backend's rejection reason, when available
	Reason string
}

// Authorizer answers authorize-and-report calls
type Authorizer interface {
	AuthRep(ctx context.Context, req Request) (*Decision, error)
}

// ClientConfig configures a backend Client
type ClientConfig struct {
	// BaseURL is the backend base URL, e.g. https://su1.3scale.net
	BaseURL string

	// Timeout is the per-call timeout. Zero means no client timeout.
	Timeout time.Duration

	// Extensions are protocol extensions sent with every call,
	// e.g. "no_body"
	Extensions []string

	// HTTPClient optionally overrides the HTTP client. Timeout is
	// ignored when set.
	HTTPClient *http.Client
}

// Client is an HTTP Authorizer speaking the authrep protocol
type Client struct {
	baseURL    string
	extensions string
	httpClient *http.Client
}

// NewClient creates a backend client
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	base := strings.TrimRight(config.BaseURL, "/")
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid backend URL %s: %w", config.BaseURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		baseURL:    base,
		extensions: strings.Join(config.Extensions, "&"),
		httpClient: httpClient,
	}, nil
}

// AuthRep implements Authorizer
func (c *Client) AuthRep(ctx context.Context, req Request) (*Decision, error) {
	if req.ServiceID == "" {
		return nil, fmt.Errorf("service id is required")
	}
	if req.UserKey == "" && req.AppID == "" {
		return nil, fmt.Errorf("a user_key or app_id is required")
	}

	query := url.Values{}
	query.Set("service_id", req.ServiceID)
	if req.ServiceToken != "" {
		query.Set("service_token", req.ServiceToken)
	}
	if req.UserKey != "" {
		query.Set("user_key", req.UserKey)
	} else {
		query.Set("app_id", req.AppID)
	}
	for _, metric := range sortedMetrics(req.Usage) {
		query.Set("usage["+metric+"]", strconv.FormatInt(req.Usage[metric], 10))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+authrepPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build authrep request: %w", err)
	}
	if c.extensions != "" {
		httpReq.Header.Set("3scale-Options", c.extensions)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("authrep call failed: %w", err)
	}
	defer resp.Body.Close()

	// Bound the body read; rejection bodies are tiny XML documents.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("failed to read authrep response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Decision{Authorized: true}, nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusConflict:
		return &Decision{Authorized: false, Reason: rejectionReason(body)}, nil
	default:
		return nil, fmt.Errorf("authrep returned unexpected status %d", resp.StatusCode)
	}
}

func sortedMetrics(usage map[string]int64) []string {
	metrics := make([]string, 0, len(usage))
	for metric := range usage {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)
	return metrics
}

// rejectionReason pulls the reason code out of a rejection body like
// <error code="user_key_invalid">user key "foo" is invalid</error>
func rejectionReason(body []byte) string {
	s := string(body)
	const marker = `code="`
	i := strings.Index(s, marker)
	if i < 0 {
		return ""
	}
	s = s[i+len(marker):]
	j := strings.IndexByte(s, '"')
	if j < 0 {
		return ""
	}
	return s[:j]
}
