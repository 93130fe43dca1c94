// Package kv wraps the shared Redis store behind a small get/set/ping surface.
// Reconnect-on-failure lives here once and is reused by the result cache and
// the lookup registry instead of being duplicated at each call site.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/oppscan/internal/config"
)

// ErrUnavailable reports that the store could not be reached even after the
// ping-reconnect cycle. Callers degrade to not-found for the current call;
// the underlying scan is unaffected.
var ErrUnavailable = errors.New("kv store unavailable")

// Client is a circuit-broken Redis client. All operations retry once after a
// successful ping so a transient network blip does not surface as a spurious
// not-found to pollers.
type Client struct {
	rdb     redis.Cmdable
	breaker *gobreaker.CircuitBreaker
	onRetry func()
}

// OnRetry registers a hook invoked each time an operation is retried after a
// reconnect ping. Used to feed the retry counter metric.
func (c *Client) OnRetry(fn func()) {
	c.onRetry = fn
}

// New dials Redis with the given settings.
func New(cfg config.RedisConfig) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return NewFromClient(rdb)
}

// NewFromClient wraps an existing client. Tests inject a redismock client here.
func NewFromClient(rdb redis.Cmdable) *Client {
	st := gobreaker.Settings{Name: "kv"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	return &Client{rdb: rdb, breaker: gobreaker.NewCircuitBreaker(st)}
}

// Get returns the value at key. A plain miss is ("", false, nil), never an error.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	var val string
	var found bool
	err := c.do(ctx, func() error {
		v, err := c.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			val, found = "", false
			return nil
		}
		if err != nil {
			return err
		}
		val, found = v, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return val, found, nil
}

// Set writes key with a TTL. Writes are idempotent overwrites.
func (c *Client) Set(ctx context.Context, key, val string, ttl time.Duration) error {
	return c.do(ctx, func() error {
		return c.rdb.Set(ctx, key, val, ttl).Err()
	})
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// do runs op under the circuit breaker. On failure it attempts one
// ping-reconnect cycle and retries the op before declaring the store
// unavailable.
func (c *Client) do(ctx context.Context, op func() error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		if err := op(); err != nil {
			if pingErr := c.rdb.Ping(ctx).Err(); pingErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, pingErr)
			}
			log.Debug().Err(err).Msg("kv op failed, retrying after ping")
			if c.onRetry != nil {
				c.onRetry()
			}
			if err := op(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	return nil
}
