// Package redis implements the live-update bus, distributed locks and rate
// limiting on top of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 5 * time.Second

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// ClientName tags the connections in CLIENT LIST, e.g. "deepsentinel-agent".
	ClientName  string
	DialTimeout time.Duration
}

// Client wraps a go-redis client shared by the bus, lock manager and rate
// limiter.
type Client struct {
	rdb  *redis.Client
	addr string
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		ClientName:  cfg.ClientName,
		DialTimeout: dial,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{rdb: redis.NewClient(opts), addr: cfg.Addr}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Wrap adopts an existing go-redis client.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, addr: rdb.Options().Addr}
}

// Ping checks the connection. It doubles as the health check of the API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.addr, err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw go-redis client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
