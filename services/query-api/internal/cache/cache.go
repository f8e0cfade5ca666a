package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "query:"

// Options configures the Redis connection.
type Options struct {
	Enabled bool          `mapstructure:"enabled"`
	Addr    string        `mapstructure:"addr"`
	DB      int           `mapstructure:"db"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// QueryCache caches API responses in Redis. A disabled or unreachable
// cache misses every lookup and drops every write.
type QueryCache struct {
	client  redis.UniversalClient
	enabled bool
	ttl     time.Duration
	logger  *logrus.Entry

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewQueryCache creates a new query cache
func NewQueryCache(ctx context.Context, opts Options, logger *logrus.Logger) *QueryCache {
	entry := logger.WithField("component", "cache")
	if !opts.Enabled {
		entry.Info("Query cache disabled")
		return &QueryCache{logger: entry}
	}

	client := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		DB:              opts.DB,
		MaxRetries:      3,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
		ReadTimeout:     200 * time.Millisecond,
		WriteTimeout:    200 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		entry.WithError(err).Warn("Redis not available, caching disabled")
		client.Close()
		return &QueryCache{logger: entry}
	}

	entry.WithField("addr", opts.Addr).Info("Query cache connected to Redis")
	return NewWithClient(client, opts.TTL, logger)
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, ttl time.Duration, logger *logrus.Logger) *QueryCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &QueryCache{
		client:  client,
		enabled: client != nil,
		ttl:     ttl,
		logger:  logger.WithField("component", "cache"),
	}
}

// Enabled reports whether lookups can hit.
func (qc *QueryCache) Enabled() bool {
	return qc.enabled
}

// Get decodes the cached value of key into dest and reports whether it was
// found.
func (qc *QueryCache) Get(ctx context.Context, key string, dest interface{}) bool {
	if !qc.enabled {
		return false
	}

	val, err := qc.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		qc.misses.Add(1)
		return false
	} else if err != nil {
		qc.misses.Add(1)
		qc.logger.WithError(err).Warn("Cache get error")
		return false
	}

	if err := json.Unmarshal(val, dest); err != nil {
		qc.misses.Add(1)
		qc.logger.WithError(err).Warn("Cache unmarshal error")
		return false
	}

	qc.hits.Add(1)
	qc.logger.WithField("key", key).Debug("Cache hit")
	return true
}

// Set stores value under key. A zero ttl uses the default.
func (qc *QueryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if !qc.enabled {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		qc.logger.WithError(err).Warn("Cache marshal error")
		return
	}
	if ttl == 0 {
		ttl = qc.ttl
	}
	if err := qc.client.Set(ctx, key, data, ttl).Err(); err != nil {
		qc.logger.WithError(err).Warn("Cache set error")
	}
}

// GenerateKey builds a deterministic key from parts.
func (qc *QueryCache) GenerateKey(parts ...string) string {
	h := md5.Sum([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + hex.EncodeToString(h[:])
}

// Clear removes every cached response.
func (qc *QueryCache) Clear(ctx context.Context) error {
	if !qc.enabled {
		return nil
	}

	iter := qc.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		if err := qc.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
		qc.logger.WithField("keys", len(keys)).Debug("Cleared cached queries")
	}
	return nil
}

// Close closes Redis connection
func (qc *QueryCache) Close() {
	if qc.client != nil {
		qc.client.Close()
		qc.logger.Info("Query cache closed")
	}
}

// Stats returns hit and miss counts.
func (qc *QueryCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"enabled": qc.enabled,
		"hits":    qc.hits.Load(),
		"misses":  qc.misses.Load(),
	}
}
