package external

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/repertory-sheet-server/internal/domain"
)

// RubricCache stores search service responses. Rubrics are immutable, so entries only
// expire to pick up dataset updates.
type RubricCache interface {
	GetRubric(ctx context.Context, id string) (*domain.Rubric, bool, error)
	SetRubric(ctx context.Context, rubric *domain.Rubric, ttl time.Duration) error
	GetSearch(ctx context.Context, query domain.SearchQuery) ([]domain.Rubric, bool, error)
	SetSearch(ctx context.Context, query domain.SearchQuery, rubrics []domain.Rubric, ttl time.Duration) error
	Close() error
}

// CachedRubrics represents cached rubric data with metadata
type CachedRubrics struct {
	Data      []domain.Rubric `json:"data"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// CacheClient wraps Redis client with caching functionality for search responses
type CacheClient struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewCacheClient creates a new cache client
func NewCacheClient(config domain.CacheConfig) (*CacheClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{
		redis:      client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// GetRubric retrieves a cached rubric
func (c *CacheClient) GetRubric(ctx context.Context, id string) (*domain.Rubric, bool, error) {
	rubrics, found, err := c.get(ctx, rubricKey(id))
	if err != nil || !found || len(rubrics) != 1 {
		return nil, false, err
	}
	return &rubrics[0], true, nil
}

// SetRubric caches a rubric
func (c *CacheClient) SetRubric(ctx context.Context, rubric *domain.Rubric, ttl time.Duration) error {
	return c.set(ctx, rubricKey(rubric.ID), []domain.Rubric{*rubric}, ttl)
}

// GetSearch retrieves cached search results
func (c *CacheClient) GetSearch(ctx context.Context, query domain.SearchQuery) ([]domain.Rubric, bool, error) {
	return c.get(ctx, searchKey(query))
}

// SetSearch caches search results
func (c *CacheClient) SetSearch(ctx context.Context, query domain.SearchQuery, rubrics []domain.Rubric, ttl time.Duration) error {
	return c.set(ctx, searchKey(query), rubrics, ttl)
}

func (c *CacheClient) get(ctx context.Context, key string) ([]domain.Rubric, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rubric cache: %w", err)
	}

	var cached CachedRubrics
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return cached.Data, true, nil
}

func (c *CacheClient) set(ctx context.Context, key string, rubrics []domain.Rubric, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	cached := CachedRubrics{
		Data:      rubrics,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal rubric cache data: %w", err)
	}

	return c.redis.Set(ctx, key, jsonData, ttl).Err()
}

// Ping checks if Redis connection is alive
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.redis.Close()
}

// MemoryCache is an in-process RubricCache bounded by entry count
type MemoryCache struct {
	entries    *lru.Cache[string, CachedRubrics]
	defaultTTL time.Duration
}

// NewMemoryCache creates an in-process cache holding at most size entries
func NewMemoryCache(size int, defaultTTL time.Duration) (*MemoryCache, error) {
	if size <= 0 {
		size = 1024
	}
	entries, err := lru.New[string, CachedRubrics](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryCache{entries: entries, defaultTTL: defaultTTL}, nil
}

// GetRubric retrieves a cached rubric
func (m *MemoryCache) GetRubric(_ context.Context, id string) (*domain.Rubric, bool, error) {
	rubrics, found := m.get(rubricKey(id))
	if !found || len(rubrics) != 1 {
		return nil, false, nil
	}
	rubric := rubrics[0]
	return &rubric, true, nil
}

// SetRubric caches a rubric
func (m *MemoryCache) SetRubric(_ context.Context, rubric *domain.Rubric, ttl time.Duration) error {
	m.set(rubricKey(rubric.ID), []domain.Rubric{*rubric}, ttl)
	return nil
}

// GetSearch retrieves cached search results
func (m *MemoryCache) GetSearch(_ context.Context, query domain.SearchQuery) ([]domain.Rubric, bool, error) {
	rubrics, found := m.get(searchKey(query))
	return rubrics, found, nil
}

// SetSearch caches search results
func (m *MemoryCache) SetSearch(_ context.Context, query domain.SearchQuery, rubrics []domain.Rubric, ttl time.Duration) error {
	m.set(searchKey(query), rubrics, ttl)
	return nil
}

// Len returns the number of cached entries
func (m *MemoryCache) Len() int {
	return m.entries.Len()
}

// Close drops every entry
func (m *MemoryCache) Close() error {
	m.entries.Purge()
	return nil
}

func (m *MemoryCache) get(key string) ([]domain.Rubric, bool) {
	cached, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(cached.ExpiresAt) {
		m.entries.Remove(key)
		return nil, false
	}
	return cloneRubrics(cached.Data), true
}

func (m *MemoryCache) set(key string, rubrics []domain.Rubric, ttl time.Duration) {
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	m.entries.Add(key, CachedRubrics{Data: cloneRubrics(rubrics), CachedAt: now, ExpiresAt: now.Add(ttl)})
}

// cloneRubrics copies rubrics down to their links so callers never share cached storage
func cloneRubrics(rubrics []domain.Rubric) []domain.Rubric {
	out := make([]domain.Rubric, len(rubrics))
	for i, r := range rubrics {
		out[i] = r.Clone()
	}
	return out
}

// rubricKey creates a cache key for one rubric
func rubricKey(id string) string {
	return "repertory:rubric:" + id
}

// searchKey creates a standardized cache key for a search query
func searchKey(query domain.SearchQuery) string {
	data := fmt.Sprintf("%s|%s|%d", query.Text, query.Repertory, query.Limit)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("repertory:search:%x", hash[:8]) // Use first 8 bytes of hash
}
