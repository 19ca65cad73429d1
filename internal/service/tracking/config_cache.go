package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"
)

// TenantConfig is the routing data for one tenant integration.
type TenantConfig struct {
	TenantID string
	APIKey   string
	ChatID   int64
	BotToken string
}

type ConfigCacheOptions struct {
	TTL         time.Duration
	NegativeTTL time.Duration
	Capacity    int
}

func DefaultConfigCacheOptions() ConfigCacheOptions {
	return ConfigCacheOptions{
		TTL:         5 * time.Minute,
		NegativeTTL: 30 * time.Second,
		Capacity:    10000,
	}
}

// KeyIndex publishes apiKey -> tenantID lookups for sibling processes.
type KeyIndex interface {
	Seed(ctx context.Context, apiKey, tenantID string) error
}

type configEntry struct {
	cfg       TenantConfig
	found     bool
	fetchedAt time.Time
}

// ConfigCache fronts the integration table with a TTL cache. Unknown keys are
// cached for NegativeTTL so a bad widget install cannot hammer the store.
type ConfigCache struct {
	mu      sync.Mutex
	entries map[string]configEntry
	opts    ConfigCacheOptions
	repo    Repository
	index   KeyIndex
	loads   singleflight.Group
	now     func() time.Time
	logger  *slog.Logger
}

func NewConfigCache(repo Repository, index KeyIndex, opts ConfigCacheOptions, now func() time.Time, logger *slog.Logger) *ConfigCache {
	def := DefaultConfigCacheOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = def.NegativeTTL
	}
	if opts.Capacity <= 0 {
		opts.Capacity = def.Capacity
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigCache{
		entries: make(map[string]configEntry),
		opts:    opts,
		repo:    repo,
		index:   index,
		now:     now,
		logger:  logger.With("component", "config_cache"),
	}
}

// Resolve returns the tenant config for apiKey, reading through to the store
// when the cached entry is missing or older than its TTL.
func (c *ConfigCache) Resolve(ctx context.Context, apiKey string) (TenantConfig, error) {
	if apiKey == "" {
		return TenantConfig{}, newError(ErrorCodeValidation, "api key is required", nil)
	}

	if entry, ok := c.lookup(apiKey); ok {
		if !entry.found {
			return TenantConfig{}, newError(ErrorCodeNotFound, "integration not found", ErrNotFound)
		}
		return entry.cfg, nil
	}

	v, err, _ := c.loads.Do(apiKey, func() (interface{}, error) {
		return c.load(context.WithoutCancel(ctx), apiKey)
	})
	if err != nil {
		return TenantConfig{}, err
	}
	return v.(TenantConfig), nil
}

func (c *ConfigCache) lookup(apiKey string) (configEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[apiKey]
	if !ok {
		return configEntry{}, false
	}
	ttl := c.opts.TTL
	if !entry.found {
		ttl = c.opts.NegativeTTL
	}
	if c.now().Sub(entry.fetchedAt) >= ttl {
		delete(c.entries, apiKey)
		return configEntry{}, false
	}
	return entry, true
}

func (c *ConfigCache) load(ctx context.Context, apiKey string) (TenantConfig, error) {
	integration, err := c.repo.GetIntegration(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.store(apiKey, configEntry{fetchedAt: c.now()})
			return TenantConfig{}, newError(ErrorCodeNotFound, "integration not found", err)
		}
		return TenantConfig{}, newError(ErrorCodeStoreUnavailable, "failed to load integration", err)
	}

	cfg := TenantConfig{
		TenantID: integration.TenantID,
		APIKey:   integration.APIKey,
		ChatID:   integration.ChatID,
		BotToken: integration.BotToken,
	}
	c.store(apiKey, configEntry{cfg: cfg, found: true, fetchedAt: c.now()})

	if c.index != nil {
		if err := c.index.Seed(ctx, apiKey, cfg.TenantID); err != nil {
			c.logger.Warn("api key index seed failed", "tenant_id", cfg.TenantID, "error", err)
		}
	}
	return cfg, nil
}

func (c *ConfigCache) store(apiKey string, entry configEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[apiKey]; !ok && len(c.entries) >= c.opts.Capacity {
		c.evictOldestLocked()
	}
	c.entries[apiKey] = entry
}

func (c *ConfigCache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, entry := range c.entries {
		if oldestKey == "" || entry.fetchedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.fetchedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Invalidate drops the cached entry so the next Resolve reads the store.
func (c *ConfigCache) Invalidate(apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, apiKey)
}

// Sweep removes expired entries and returns how many were dropped.
func (c *ConfigCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		ttl := c.opts.TTL
		if !entry.found {
			ttl = c.opts.NegativeTTL
		}
		if now.Sub(entry.fetchedAt) >= ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *ConfigCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

const apiKeyIndexPrefix = "tenant-key:"

// RedisKeyIndex stores apiKey -> tenantID under "tenant-key:<apiKey>".
type RedisKeyIndex struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisKeyIndex(client *redis.Client, ttl time.Duration) *RedisKeyIndex {
	return &RedisKeyIndex{client: client, ttl: ttl}
}

func (i *RedisKeyIndex) Seed(ctx context.Context, apiKey, tenantID string) error {
	return i.client.Set(ctx, apiKeyIndexPrefix+apiKey, tenantID, i.ttl).Err()
}

// Lookup returns the tenant seeded for apiKey, or ErrNotFound.
func (i *RedisKeyIndex) Lookup(ctx context.Context, apiKey string) (string, error) {
	tenantID, err := i.client.Get(ctx, apiKeyIndexPrefix+apiKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return tenantID, err
}

// Forget removes apiKey from the index so other servers stop resolving it
// without a store read.
func (i *RedisKeyIndex) Forget(ctx context.Context, apiKey string) error {
	return i.client.Del(ctx, apiKeyIndexPrefix+apiKey).Err()
}
