package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/groupcache"

	"github.com/alechenninger/tollgate/internal/clock"
)

// CachingConfig configures the caching authorizer
type CachingConfig struct {
	// GroupName is the name for this groupcache group
	GroupName string

	// CacheSizeBytes is the maximum size of the cache in bytes
	// Default: 64MB
	CacheSizeBytes int64

	// TTL is how long a decision stays fresh. A new TTL window
	// re-asks the backend. Zero caches forever (until LRU eviction).
	TTL time.Duration

	// Clock supplies the current time. Default: system clock.
	Clock clock.Clock
}

// CachingAuthorizer wraps an Authorizer with a groupcache decision cache.
// Cache keys carry a TTL-aligned time window so a fresh window naturally
// re-asks the backend; groupcache itself evicts by LRU only.
//
// Note: groupcache requires that you set up the peer pool before creating
// caching authorizers. See groupcache documentation for details.
type CachingAuthorizer struct {
	source Authorizer
	group  *groupcache.Group
	ttl    time.Duration
	clock  clock.Clock
}

// NewCachingAuthorizer wraps an authorizer with distributed decision caching
func NewCachingAuthorizer(source Authorizer, config CachingConfig) *CachingAuthorizer {
	if config.GroupName == "" {
		config.GroupName = "tollgate:authrep"
	}
	if config.CacheSizeBytes == 0 {
		config.CacheSizeBytes = 64 << 20 // 64MB default
	}
	if config.Clock == nil {
		config.Clock = clock.NewSystemClock()
	}

	c := &CachingAuthorizer{
		source: source,
		ttl:    config.TTL,
		clock:  config.Clock,
	}

	// Called on cache miss, possibly on a different peer. The full
	// request is recovered from the key so a peer can fetch it too.
	getter := groupcache.GetterFunc(func(ctx context.Context, key string, dest groupcache.Sink) error {
		req, err := requestFromKey(key)
		if err != nil {
			return fmt.Errorf("failed to decode cache key: %w", err)
		}

		decision, err := c.source.AuthRep(ctx, req)
		if err != nil {
			return fmt.Errorf("backend authrep failed: %w", err)
		}

		entryBytes, err := json.Marshal(decision)
		if err != nil {
			return fmt.Errorf("failed to marshal decision: %w", err)
		}
		return dest.SetBytes(entryBytes)
	})

	c.group = groupcache.NewGroup(config.GroupName, config.CacheSizeBytes, getter)
	return c
}

// AuthRep implements Authorizer
func (c *CachingAuthorizer) AuthRep(ctx context.Context, req Request) (*Decision, error) {
	key, err := c.cacheKey(req)
	if err != nil {
		// Unkeyable request, fall back to a direct call
		return c.source.AuthRep(ctx, req)
	}

	var cachedBytes []byte
	if err := c.group.Get(ctx, key, groupcache.AllocatingByteSliceSink(&cachedBytes)); err != nil {
		return nil, fmt.Errorf("decision cache fetch failed: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(cachedBytes, &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached decision: %w", err)
	}
	return &decision, nil
}

// cacheKeyEnvelope is the reversible cache key: the request plus the time
// window it belongs to
type cacheKeyEnvelope struct {
	Window  int64   `json:"window"`
	Request Request `json:"request"`
}

func (c *CachingAuthorizer) cacheKey(req Request) (string, error) {
	var window int64
	if c.ttl > 0 {
		window = c.clock.Now().UnixNano() / int64(c.ttl)
	}
	keyBytes, err := json.Marshal(cacheKeyEnvelope{Window: window, Request: req})
	if err != nil {
		return "", err
	}
	return string(keyBytes), nil
}

func requestFromKey(key string) (Request, error) {
	var envelope cacheKeyEnvelope
	if err := json.Unmarshal([]byte(key), &envelope); err != nil {
		return Request{}, err
	}
	return envelope.Request, nil
}
