package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DecisionCache memoizes decisions for requests without attribute checks. Invalidate must
// make every earlier entry unreachable; callers invoke it after any grant mutation.
type DecisionCache interface {
	// Get always reports the generation the lookup ran under, hit or miss.
	Get(ctx context.Context, req Request) (Cached, error)
	// Set stores e.Decision under e.Generation, so an Invalidate that landed after the lookup
	// leaves the entry unreachable. A non-zero e.ValidUntil caps the entry's lifetime.
	Set(ctx context.Context, req Request, e Cached) error
	Invalidate(ctx context.Context) error
}

// Cached is a cache lookup result or a value to store.
type Cached struct {
	Decision   Decision
	Found      bool
	Generation int64
	// ValidUntil is the earliest expiry among the grants the decision depended on.
	ValidUntil time.Time
}

// Usable reports whether a hit may still be served at now.
func (e Cached) Usable(now time.Time) bool {
	return e.Found && (e.ValidUntil.IsZero() || now.Before(e.ValidUntil))
}

// RedisCache keys entries under a generation counter. Invalidate bumps the generation,
// so stale entries are never read and simply age out.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "authz"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (c *RedisCache) generationKey() string {
	return c.prefix + ":gen"
}

func (c *RedisCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) key(gen int64, req Request) string {
	return fmt.Sprintf("%s:%d:%s:%s:%s:%s:%s", c.prefix, gen, req.UserID, req.Tenant, req.Resource, req.Action, req.ResourceID)
}

func (c *RedisCache) Get(ctx context.Context, req Request) (Cached, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return Cached{}, err
	}
	miss := Cached{Generation: gen}
	raw, err := c.client.Get(ctx, c.key(gen, req)).Bytes()
	if errors.Is(err, redis.Nil) {
		return miss, nil
	}
	if err != nil {
		return Cached{}, err
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Cached{}, err
	}
	hit := Cached{
		Decision:   Decision{Allowed: entry.Allowed, Reason: entry.Reason, Source: entry.Source},
		Found:      true,
		Generation: gen,
	}
	if entry.ValidUntil != nil {
		hit.ValidUntil = *entry.ValidUntil
	}
	return hit, nil
}

func (c *RedisCache) Set(ctx context.Context, req Request, e Cached) error {
	ttl := c.ttl
	entry := cacheEntry{Allowed: e.Decision.Allowed, Reason: e.Decision.Reason, Source: e.Decision.Source}
	if !e.ValidUntil.IsZero() {
		left := e.ValidUntil.Sub(c.now())
		if left <= 0 {
			return nil
		}
		if left < ttl {
			ttl = left
		}
		until := e.ValidUntil
		entry.ValidUntil = &until
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(e.Generation, req), raw, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.generationKey()).Err()
}

type cacheEntry struct {
	Allowed    bool       `json:"allowed"`
	Reason     string     `json:"reason,omitempty"`
	Source     string     `json:"source"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}
