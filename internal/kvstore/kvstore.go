// Package kvstore keeps ephemeral newsletter state in Redis: same-day
// engagement tallies and short-lived contact profile flags. Everything here
// is best-effort; the durable record lives in Postgres.
package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/newsletter-platform/internal/pkg/logger"
)

const (
	counterKeyPrefix = "nl:counter:"
	flagKeyPrefix    = "nl:flags:"

	// Counters outlive their day by one so a dashboard loaded just after
	// midnight still sees yesterday.
	counterTTL = 48 * time.Hour
	flagTTL    = 30 * 24 * time.Hour
)

// Client wraps Redis for the newsletter subsystem.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func dayKey(name string, day time.Time) string {
	return counterKeyPrefix + name + ":" + day.UTC().Format("2006-01-02")
}

// IncrDaily bumps today's tally for a named counter. Failures are logged and
// dropped: a Redis outage must never affect tracking responses.
func (c *Client) IncrDaily(ctx context.Context, name string) {
	key := dayKey(name, time.Now())
	pipe := c.rdb.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("counter increment failed", "counter", name, "error", err)
	}
}

// TodayCounts reads today's tallies for the given counter names. Missing
// counters read as zero.
func (c *Client) TodayCounts(ctx context.Context, names ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	for _, name := range names {
		v, err := c.rdb.Get(ctx, dayKey(name, time.Now())).Int64()
		if err == redis.Nil {
			out[name] = 0
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read counter %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// SetFlag sets a short-lived profile flag on a contact.
func (c *Client) SetFlag(ctx context.Context, contactID, flag, value string) error {
	key := flagKeyPrefix + contactID
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, flag, value)
	pipe.Expire(ctx, key, flagTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetFlags returns all profile flags for a contact. No flags is an empty map.
func (c *Client) GetFlags(ctx context.Context, contactID string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, flagKeyPrefix+contactID).Result()
}

// DeleteFlag removes one profile flag from a contact.
func (c *Client) DeleteFlag(ctx context.Context, contactID, flag string) error {
	return c.rdb.HDel(ctx, flagKeyPrefix+contactID, flag).Err()
}
