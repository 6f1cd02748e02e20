package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avaliahq/tenancy/internal/models"
	"github.com/avaliahq/tenancy/internal/store"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	slugKeyPrefix = "tenancy:slug:"

	// positiveTTL and negativeTTL bound how stale resolution can be. A
	// deactivation or slug change additionally invalidates eagerly.
	positiveTTL = 5 * time.Minute
	negativeTTL = time.Minute
)

// notFoundSentinel is the cached value for slugs that resolved to nothing.
// Negative caching keeps repeated unresolvable-slug lookups off the database.
const notFoundSentinel = "!"

// Cache is a Redis slug-lookup cache in front of the organization store. It
// implements OrganizationLookup. Cache trouble degrades to a direct store
// lookup, never to a resolution failure; a broken cache must not take tenant
// resolution down with it.
type Cache struct {
	client *redis.Client
	next   OrganizationLookup
	group  singleflight.Group
}

// NewCache wraps next with a Redis cache.
func NewCache(client *redis.Client, next OrganizationLookup) *Cache {
	return &Cache{
		client: client,
		next:   next,
	}
}

// GetBySlug returns the organization for a slug, consulting the cache first.
// Concurrent misses for the same slug collapse into one store lookup.
func (c *Cache) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	slug = models.NormalizeSlug(slug)
	key := slugKeyPrefix + slug

	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if val == notFoundSentinel {
			return nil, store.ErrOrganizationNotFound
		}
		var org models.Organization
		if err := json.Unmarshal([]byte(val), &org); err == nil {
			return &org, nil
		}
		// Undecodable entry: fall through to a fresh lookup and rewrite.
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("slug", slug).Msg("Slug cache read failed, falling back to store")
	}

	v, err, _ := c.group.Do(slug, func() (any, error) {
		org, err := c.next.GetBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, store.ErrOrganizationNotFound) {
				c.set(ctx, key, notFoundSentinel, negativeTTL)
			}
			return nil, err
		}

		if data, merr := json.Marshal(org); merr == nil {
			c.set(ctx, key, string(data), positiveTTL)
		}
		return org, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Organization), nil
}

// Invalidate drops the cache entry for a slug. Called on deactivation and on
// any slug change so the resolver cannot keep admitting a dead tenant for a
// full TTL.
func (c *Cache) Invalidate(ctx context.Context, slug string) error {
	slug = models.NormalizeSlug(slug)
	if err := c.client.Del(ctx, slugKeyPrefix+slug).Err(); err != nil {
		return fmt.Errorf("invalidate slug %q: %w", slug, err)
	}
	return nil
}

func (c *Cache) set(ctx context.Context, key, val string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, val, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Slug cache write failed")
	}
}
