// Package cache holds the optional Redis integration of earshot: a lookup
// cache in front of the character roster and a pub/sub channel that mirrors
// every published segment batch.
//
// Redis is never required. [Open] returns a disabled [Client] when no URL is
// configured or the server does not answer, and every operation on a
// disabled client is a no-op.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults applied by [Open] and [NewClient] for zero config fields.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultChannel = "earshot:segments"

	keyPrefix   = "earshot:"
	pingTimeout = 3 * time.Second
)

// Config configures a [Client].
type Config struct {
	// URL is a redis:// or rediss:// URL. Empty disables the cache.
	URL string

	// TTL bounds how long cached lookups live.
	TTL time.Duration

	// Channel is the pub/sub channel prefix segment batches are published
	// under. The session ID is appended after a colon.
	Channel string
}

// Client wraps a Redis connection. The zero value and a nil *Client are
// disabled.
type Client struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	channel string
}

// Open connects to cfg.URL. Connection problems are logged and yield a
// disabled client rather than an error.
func Open(ctx context.Context, cfg Config) *Client {
	if cfg.URL == "" {
		return &Client{}
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		slog.Warn("cache: invalid redis url, caching disabled", "err", err)
		return &Client{}
	}
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		slog.Warn("cache: redis unreachable, caching disabled", "addr", opts.Addr, "err", err)
		_ = rdb.Close()
		return &Client{}
	}
	slog.Info("cache: connected to redis", "addr", opts.Addr)
	return NewClient(rdb, cfg)
}

// NewClient wraps an existing connection. A nil rdb yields a disabled client.
func NewClient(rdb redis.UniversalClient, cfg Config) *Client {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	return &Client{rdb: rdb, ttl: cfg.TTL, channel: cfg.Channel}
}

// Enabled reports whether the client talks to a Redis server.
func (c *Client) Enabled() bool { return c != nil && c.rdb != nil }

// Ping checks the connection. A disabled client is always healthy.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: ping: %w", err)
	}
	return nil
}

// Publish sends payload on the channel of sessionID.
func (c *Client) Publish(ctx context.Context, sessionID string, payload []byte) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.rdb.Publish(ctx, c.channel+":"+sessionID, string(payload)).Err(); err != nil {
		return fmt.Errorf("cache: publish: %w", err)
	}
	return nil
}

// Close releases the connection.
func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.Close()
}
