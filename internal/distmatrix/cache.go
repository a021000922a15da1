package distmatrix

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	redis "github.com/redis/go-redis/v9"

	"fleetroute/internal/geo"
	"fleetroute/internal/metrics"
)

// Cache stores assembled matrices by coordinate-list key.
type Cache interface {
	Get(ctx context.Context, key string) (Matrix, bool, error)
	Put(ctx context.Context, key string, m Matrix) error
}

// Key hashes the ordered coordinate list. Order matters: the matrix is
// indexed by position, so a permutation is a different matrix.
func Key(coords []geo.Coordinate) string {
	h := sha256.New()
	buf := make([]byte, 0, 48)
	for _, c := range coords {
		buf = buf[:0]
		buf = strconv.AppendFloat(buf, c.Lat, 'f', 6, 64)
		buf = append(buf, ',')
		buf = strconv.AppendFloat(buf, c.Lng, 'f', 6, 64)
		buf = append(buf, ';')
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is an in-process Cache with optional expiry. Stored matrices
// are cloned on the way in and out.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	m       Matrix
	expires time.Time
}

// NewMemoryCache returns a MemoryCache. ttl <= 0 keeps entries forever.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: map[string]memEntry{}, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Matrix, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.m.Clone(), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, m Matrix) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memEntry{m: m.Clone()}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.entries[key] = e
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache stores matrices as JSON under prefix+key with a TTL.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. ttl <= 0 stores without expiry.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: "distmatrix:", ttl: ttl}
}

// NewRedisCacheFromURL parses a redis:// URL.
func NewRedisCacheFromURL(url string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisCache(redis.NewClient(opt), ttl), nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (Matrix, bool, error) {
	data, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get matrix: %w", err)
	}
	var m Matrix
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("decode cached matrix: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, false, fmt.Errorf("cached matrix: %w", err)
	}
	return m, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, m Matrix) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode matrix: %w", err)
	}
	if err := c.rdb.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set matrix: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error { return c.rdb.Close() }

// CachedBuilder consults Cache before building. Cache failures are logged
// and never fail the build.
type CachedBuilder struct {
	Builder *Builder
	Cache   Cache
	// Namespace separates matrices priced by different oracles sharing one
	// cache, e.g. "ors:driving-car".
	Namespace string
	Log       logr.Logger
}

func (cb *CachedBuilder) key(coords []geo.Coordinate) string {
	if cb.Namespace == "" {
		return Key(coords)
	}
	return cb.Namespace + ":" + Key(coords)
}

func (cb *CachedBuilder) Build(ctx context.Context, coords []geo.Coordinate) (Matrix, error) {
	if cb.Cache == nil {
		return cb.Builder.Build(ctx, coords)
	}
	key := cb.key(coords)
	m, ok, err := cb.Cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.MatrixCacheLookups.WithLabelValues("error").Inc()
		cb.Log.Error(err, "matrix cache lookup failed", "key", key)
	case ok && m.Size() == len(coords):
		metrics.MatrixCacheLookups.WithLabelValues("hit").Inc()
		cb.Log.V(1).Info("matrix cache hit", "key", key, "nodes", len(coords))
		return m, nil
	default:
		metrics.MatrixCacheLookups.WithLabelValues("miss").Inc()
	}

	m, err = cb.Builder.Build(ctx, coords)
	if err != nil {
		return nil, err
	}
	if err := cb.Cache.Put(ctx, key, m); err != nil {
		cb.Log.Error(err, "matrix cache write failed", "key", key)
	}
	return m, nil
}

// MatrixSource is satisfied by *Builder and *CachedBuilder.
type MatrixSource interface {
	Build(ctx context.Context, coords []geo.Coordinate) (Matrix, error)
}

var (
	_ MatrixSource = (*Builder)(nil)
	_ MatrixSource = (*CachedBuilder)(nil)
	_ Cache        = (*MemoryCache)(nil)
	_ Cache        = (*RedisCache)(nil)
)
