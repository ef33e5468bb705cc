package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultCacheTTL is how long retrieved context stays cached.
const DefaultCacheTTL = 24 * time.Hour

const cacheKeyPrefix = "biomech:rag:"

// CachedProvider is a read-through Redis cache in front of another provider.
// Redis errors never fail a retrieval; they only bypass the cache.
type CachedProvider struct {
	client redis.UniversalClient
	next   Provider
	ttl    time.Duration
}

// NewCachedProvider wraps next with a cache on client.
func NewCachedProvider(client redis.UniversalClient, next Provider, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProvider{client: client, next: next, ttl: ttl}
}

// NewRedisClient connects to a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// CacheKey is stable for any ordering or casing of the same topics.
func CacheKey(topics []string) string {
	norm := make([]string, 0, len(topics))
	for _, t := range topics {
		if n := normalizeTopic(t); n != "" {
			norm = append(norm, n)
		}
	}
	sort.Strings(norm)
	sum := sha256.Sum256([]byte(strings.Join(norm, "\x00")))
	return cacheKeyPrefix + hex.EncodeToString(sum[:12])
}

// Retrieve implements Provider.
func (c *CachedProvider) Retrieve(ctx context.Context, topics []string) ([]Snippet, error) {
	key := CacheKey(topics)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []Snippet
		if err := json.Unmarshal(data, &cached); err == nil {
			log.Debug().Str("key", key).Int("snippets", len(cached)).Msg("Retrieval cache hit")
			return cached, nil
		}
		log.Warn().Str("key", key).Msg("Discarding unreadable cache entry")
	case errors.Is(err, redis.Nil):
	default:
		log.Warn().Err(err).Msg("Retrieval cache unavailable, bypassing")
	}

	snippets, err := c.next.Retrieve(ctx, topics)
	if err != nil {
		return nil, err
	}
	if len(snippets) == 0 {
		return snippets, nil
	}
	if data, err := json.Marshal(snippets); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to write retrieval cache")
		}
	}
	return snippets, nil
}
