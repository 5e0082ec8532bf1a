// Package delivery resolves subscriber endpoints and pushes signed payloads
// to them.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"atonsvc/pkg/platform/sentinel"
)

const endpointKeyPrefix = "aton:endpoint:"

// StaticDirectory resolves endpoints from a fixed MRN to URI map, loaded
// from configuration.
type StaticDirectory map[string]string

func (d StaticDirectory) ResolveEndpoint(ctx context.Context, mrn string) (string, error) {
	endpoint, ok := d[mrn]
	if !ok || endpoint == "" {
		return "", fmt.Errorf("no endpoint registered for %q: %w", mrn, sentinel.ErrNotFound)
	}
	return endpoint, nil
}

// Resolver is the upstream a CachedDirectory falls back to on a cache miss.
type Resolver interface {
	ResolveEndpoint(ctx context.Context, mrn string) (string, error)
}

// CachedDirectory fronts a resolver with a Redis cache so repeated
// notifications to the same subscriber skip the upstream lookup. Cache
// failures fall through to the upstream; they never fail a resolution the
// upstream could serve.
type CachedDirectory struct {
	upstream Resolver
	client   *redis.Client
	ttl      time.Duration
}

// NewCachedDirectory wraps upstream with a Redis-backed endpoint cache.
func NewCachedDirectory(upstream Resolver, client *redis.Client, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{upstream: upstream, client: client, ttl: ttl}
}

func (d *CachedDirectory) ResolveEndpoint(ctx context.Context, mrn string) (string, error) {
	key := endpointKeyPrefix + mrn

	cached, err := d.client.Get(ctx, key).Result()
	if err == nil && cached != "" {
		return cached, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		// Cache unavailable; resolve directly.
		return d.upstream.ResolveEndpoint(ctx, mrn)
	}

	endpoint, err := d.upstream.ResolveEndpoint(ctx, mrn)
	if err != nil {
		return "", err
	}

	if err := d.client.Set(ctx, key, endpoint, d.ttl).Err(); err != nil {
		// Best effort; next resolution hits the upstream again.
		return endpoint, nil
	}
	return endpoint, nil
}

// Invalidate drops a cached endpoint, used when a delivery to it fails.
func (d *CachedDirectory) Invalidate(ctx context.Context, mrn string) error {
	return d.client.Del(ctx, endpointKeyPrefix+mrn).Err()
}
