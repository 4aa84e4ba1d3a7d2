package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/blockimport/internal/indexing/ranges"
)

// Client wraps Redis operations for post-commit notifications.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func missingRangesKey(chain string) string {
	return fmt.Sprintf("missing_blocks:%s", chain)
}

func missingBoundsKey(chain string) string {
	return fmt.Sprintf("missing_blocks:%s:bounds", chain)
}

func pendingOperationsKey(chain string) string {
	return fmt.Sprintf("pending_block_operations:%s", chain)
}

// MissingRanges returns all queued ranges ordered by start height.
func (c *Client) MissingRanges(ctx context.Context, chain string) ([]ranges.Range, error) {
	ids, err := c.rdb.ZRange(ctx, missingRangesKey(chain), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := c.rdb.HMGet(ctx, missingBoundsKey(chain), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget failed: %w", err)
	}
	out := make([]ranges.Range, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		r, err := ranges.ParseRange(s)
		if err != nil {
			return nil, fmt.Errorf("invalid queued range: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// PopMissingRange removes and returns the queued range with the lowest start height.
func (c *Client) PopMissingRange(ctx context.Context, chain string) (r ranges.Range, found bool, err error) {
	results, err := c.rdb.ZPopMin(ctx, missingRangesKey(chain), 1).Result()
	if err != nil {
		return ranges.Range{}, false, fmt.Errorf("zpopmin failed: %w", err)
	}
	if len(results) == 0 {
		return ranges.Range{}, false, nil
	}

	id, ok := results[0].Member.(string)
	if !ok {
		return ranges.Range{}, false, fmt.Errorf("unexpected member type %T", results[0].Member)
	}
	member, err := c.rdb.HGet(ctx, missingBoundsKey(chain), id).Result()
	if errors.Is(err, redis.Nil) {
		return ranges.Range{}, false, nil
	}
	if err != nil {
		return ranges.Range{}, false, fmt.Errorf("hget failed: %w", err)
	}
	if err := c.rdb.HDel(ctx, missingBoundsKey(chain), id).Err(); err != nil {
		return ranges.Range{}, false, fmt.Errorf("hdel failed: %w", err)
	}

	r, err = ranges.ParseRange(member)
	if err != nil {
		return ranges.Range{}, false, fmt.Errorf("invalid queued range: %w", err)
	}
	return r, true, nil
}

// PendingOperationCount returns the length of the pending operation queue.
func (c *Client) PendingOperationCount(ctx context.Context, chain string) (int64, error) {
	return c.rdb.LLen(ctx, pendingOperationsKey(chain)).Result()
}
