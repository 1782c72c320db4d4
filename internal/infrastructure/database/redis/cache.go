package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// ErrCacheMiss is returned by Get when no result is cached for the key.
var ErrCacheMiss = errors.New(errors.ErrCodeNotFound, "cache miss")

// ResultCache stores diagnosis results keyed by image digest and crop.
type ResultCache interface {
	Get(ctx context.Context, digest, crop string) (*diagnosis.Result, error)
	Set(ctx context.Context, digest, crop string, result *diagnosis.Result) error
	Delete(ctx context.Context, digest, crop string) error
	// GetOrCompute returns the cached result or runs compute once per key
	// across concurrent callers and caches its output.  The bool reports a
	// cache hit.
	GetOrCompute(ctx context.Context, digest, crop string, compute func(context.Context) (*diagnosis.Result, error)) (*diagnosis.Result, bool, error)
}

type CacheOption func(*redisCache)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) CacheOption {
	return func(c *redisCache) { c.prefix = prefix }
}

// WithDefaultTTL sets how long results live.
func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *redisCache) { c.defaultTTL = ttl }
}

// WithJitter spreads expirations by up to fraction*ttl in either direction.
func WithJitter(fraction float64) CacheOption {
	return func(c *redisCache) { c.jitter = fraction }
}

// OnAccess registers a hit/miss observer, typically the metrics helper.
func OnAccess(fn func(hit bool)) CacheOption {
	return func(c *redisCache) { c.onAccess = fn }
}

type redisCache struct {
	client     *Client
	logger     logging.Logger
	prefix     string
	defaultTTL time.Duration
	jitter     float64
	onAccess   func(hit bool)
	sf         singleflight.Group
}

// NewResultCache builds a ResultCache on client.
func NewResultCache(client *Client, log logging.Logger, opts ...CacheOption) ResultCache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &redisCache{
		client:     client,
		logger:     log.Named("result_cache"),
		prefix:     "leafsight:",
		defaultTTL: 24 * time.Hour,
		jitter:     0.1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key of a digest/crop pair.  Crop is normalised so
// "Tomato " and "tomato" share an entry; an empty crop is stored as "any".
func Key(prefix, digest, crop string) string {
	crop = strings.ToLower(strings.TrimSpace(crop))
	if crop == "" {
		crop = "any"
	}
	return prefix + "result:" + crop + ":" + digest
}

func (c *redisCache) key(digest, crop string) string { return Key(c.prefix, digest, crop) }

func (c *redisCache) observe(hit bool) {
	if c.onAccess != nil {
		c.onAccess(hit)
	}
}

func (c *redisCache) Get(ctx context.Context, digest, crop string) (*diagnosis.Result, error) {
	cmd, err := c.client.commands()
	if err != nil {
		return nil, err
	}
	raw, err := cmd.Get(ctx, c.key(digest, crop)).Bytes()
	if err != nil {
		if err == redis.Nil {
			c.observe(false)
			return nil, ErrCacheMiss
		}
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "cache get failed")
	}
	var res diagnosis.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "cached result is corrupt")
	}
	c.observe(true)
	return &res, nil
}

func (c *redisCache) Set(ctx context.Context, digest, crop string, result *diagnosis.Result) error {
	if result == nil {
		return errors.New(errors.ErrCodeValidation, "cannot cache a nil result")
	}
	cmd, err := c.client.commands()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode result")
	}
	if err := cmd.Set(ctx, c.key(digest, crop), raw, c.ttl()).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache set failed")
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, digest, crop string) error {
	cmd, err := c.client.commands()
	if err != nil {
		return err
	}
	if err := cmd.Del(ctx, c.key(digest, crop)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache delete failed")
	}
	return nil
}

func (c *redisCache) GetOrCompute(ctx context.Context, digest, crop string, compute func(context.Context) (*diagnosis.Result, error)) (*diagnosis.Result, bool, error) {
	if res, err := c.Get(ctx, digest, crop); err == nil {
		return res, true, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		// A broken cache must not block diagnosis.
		c.logger.Warn("cache read failed, computing", logging.Err(err))
	}

	key := c.key(digest, crop)
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, digest, crop, res); err != nil {
			c.logger.Warn("cache write failed", logging.String("key", key), logging.Err(err))
		}
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*diagnosis.Result), false, nil
}

func (c *redisCache) ttl() time.Duration {
	if c.jitter <= 0 || c.defaultTTL <= 0 {
		return c.defaultTTL
	}
	spread := float64(c.defaultTTL) * c.jitter
	return c.defaultTTL + time.Duration((rand.Float64()*2-1)*spread) //nolint:gosec
}
