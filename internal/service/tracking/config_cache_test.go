package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"visitor-relay/internal/model"
)

type recordingIndex struct {
	mu    sync.Mutex
	seeds map[string]string
	err   error
}

func (i *recordingIndex) Seed(ctx context.Context, apiKey, tenantID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	if i.seeds == nil {
		i.seeds = make(map[string]string)
	}
	i.seeds[apiKey] = tenantID
	return nil
}

func (m *memoryRepository) integrationLoads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.integrationCalls
}

func TestConfigCacheTTL(t *testing.T) {
	repo := newMemoryRepository()
	clock := newFakeClock()
	cache := NewConfigCache(repo, nil, ConfigCacheOptions{}, clock.Now, discardLogger())
	ctx := context.Background()

	cfg, err := cache.Resolve(ctx, testAPIKey)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.TenantID != testTenantID || cfg.ChatID != testChatID || cfg.BotToken != testToken {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	clock.Advance(4*time.Minute + 59*time.Second)
	if _, err := cache.Resolve(ctx, testAPIKey); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if repo.integrationLoads() != 1 {
		t.Fatalf("entry refetched before TTL: %d loads", repo.integrationLoads())
	}

	clock.Advance(2 * time.Second)
	if _, err := cache.Resolve(ctx, testAPIKey); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if repo.integrationLoads() != 2 {
		t.Fatalf("entry not refetched after TTL: %d loads", repo.integrationLoads())
	}
}

func TestConfigCacheLoadOutlivesCancelledCaller(t *testing.T) {
	repo := newMemoryRepository()
	cache := NewConfigCache(repo, nil, ConfigCacheOptions{}, newFakeClock().Now, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg, err := cache.Resolve(ctx, testAPIKey)
	if err != nil {
		t.Fatalf("Resolve with cancelled context: %v", err)
	}
	if cfg.TenantID != testTenantID {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, err := cache.Resolve(context.Background(), testAPIKey); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if repo.integrationLoads() != 1 {
		t.Fatalf("load by cancelled caller was not cached: %d loads", repo.integrationLoads())
	}
}

func TestConfigCacheNegativeEntries(t *testing.T) {
	repo := newMemoryRepository()
	clock := newFakeClock()
	cache := NewConfigCache(repo, nil, ConfigCacheOptions{}, clock.Now, discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cache.Resolve(ctx, "unknown")
		if CodeOf(err) != ErrorCodeNotFound {
			t.Fatalf("expected not_found, got %v", err)
		}
		clock.Advance(5 * time.Second)
	}
	if repo.integrationLoads() != 1 {
		t.Fatalf("negative entry not cached: %d loads", repo.integrationLoads())
	}

	clock.Advance(30 * time.Second)
	cache.Resolve(ctx, "unknown")
	if repo.integrationLoads() != 2 {
		t.Fatalf("negative entry outlived its TTL: %d loads", repo.integrationLoads())
	}
}

func TestConfigCacheInactiveIntegration(t *testing.T) {
	repo := newMemoryRepository()
	repo.integrations["paused"] = model.TenantIntegrationItem{APIKey: "paused", TenantID: "t2", Status: "paused", ChatID: 5}
	cache := NewConfigCache(repo, nil, ConfigCacheOptions{}, newFakeClock().Now, discardLogger())

	_, err := cache.Resolve(context.Background(), "paused")
	if CodeOf(err) != ErrorCodeNotFound {
		t.Fatalf("expected not_found for inactive integration, got %v", err)
	}
}

func TestConfigCacheStoreErrorIsNotCached(t *testing.T) {
	repo := newMemoryRepository()
	repo.integrationErr = errors.New("dynamodb unreachable")
	cache := NewConfigCache(repo, nil, ConfigCacheOptions{}, newFakeClock().Now, discardLogger())
	ctx := context.Background()

	_, err := cache.Resolve(ctx, testAPIKey)
	if CodeOf(err) != ErrorCodeStoreUnavailable {
		t.Fatalf("expected store_unavailable, got %v", err)
	}

	repo.mu.Lock()
	repo.integrationErr = nil
	repo.mu.Unlock()

	if _, err := cache.Resolve(ctx, testAPIKey); err != nil {
		t.Fatalf("Resolve after recovery: %v", err)
	}
}

func TestConfigCacheInvalidate(t *testing.T) {
	repo := newMemoryRepository()
	cache := NewConfigCache(repo, nil, ConfigCacheOptions{}, newFakeClock().Now, discardLogger())
	ctx := context.Background()

	cache.Resolve(ctx, testAPIKey)
	cache.Invalidate(testAPIKey)
	cache.Resolve(ctx, testAPIKey)

	if repo.integrationLoads() != 2 {
		t.Fatalf("invalidated entry served from cache: %d loads", repo.integrationLoads())
	}
}

func TestConfigCacheCapacity(t *testing.T) {
	repo := newMemoryRepository()
	for _, key := range []string{"k1", "k2", "k3"} {
		repo.integrations[key] = model.TenantIntegrationItem{APIKey: key, TenantID: "t-" + key, Status: model.IntegrationStatusActive, ChatID: 1}
	}
	clock := newFakeClock()
	cache := NewConfigCache(repo, nil, ConfigCacheOptions{Capacity: 2}, clock.Now, discardLogger())
	ctx := context.Background()

	for _, key := range []string{"k1", "k2", "k3"} {
		if _, err := cache.Resolve(ctx, key); err != nil {
			t.Fatalf("Resolve(%s): %v", key, err)
		}
		clock.Advance(time.Second)
	}
	if cache.Len() != 2 {
		t.Fatalf("cache holds %d entries, want 2", cache.Len())
	}

	loads := repo.integrationLoads()
	cache.Resolve(ctx, "k1")
	if repo.integrationLoads() != loads+1 {
		t.Fatalf("oldest entry was not evicted")
	}
}

func TestConfigCacheSeedsKeyIndex(t *testing.T) {
	index := &recordingIndex{}
	cache := NewConfigCache(newMemoryRepository(), index, ConfigCacheOptions{}, newFakeClock().Now, discardLogger())

	if _, err := cache.Resolve(context.Background(), testAPIKey); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if index.seeds[testAPIKey] != testTenantID {
		t.Fatalf("index not seeded: %v", index.seeds)
	}
}

func TestConfigCacheIndexFailureIsNotFatal(t *testing.T) {
	index := &recordingIndex{err: errors.New("redis down")}
	cache := NewConfigCache(newMemoryRepository(), index, ConfigCacheOptions{}, newFakeClock().Now, discardLogger())

	if _, err := cache.Resolve(context.Background(), testAPIKey); err != nil {
		t.Fatalf("Resolve failed on index error: %v", err)
	}
}

func TestConfigCacheSweep(t *testing.T) {
	clock := newFakeClock()
	cache := NewConfigCache(newMemoryRepository(), nil, ConfigCacheOptions{}, clock.Now, discardLogger())
	ctx := context.Background()

	cache.Resolve(ctx, testAPIKey)
	cache.Resolve(ctx, "unknown")

	if removed := cache.Sweep(clock.Now().Add(time.Minute)); removed != 1 {
		t.Fatalf("Sweep after 1m removed %d, want the negative entry only", removed)
	}
	if removed := cache.Sweep(clock.Now().Add(5 * time.Minute)); removed != 1 {
		t.Fatalf("Sweep after 5m removed %d, want 1", removed)
	}
	if cache.Len() != 0 {
		t.Fatalf("cache not empty after sweeps: %d", cache.Len())
	}
}
