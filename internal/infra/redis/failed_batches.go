package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/blockimport/internal/core/domain"
)

// failedBatchTTL bounds how long a failed batch payload is kept.
const failedBatchTTL = 7 * 24 * time.Hour

// FailedBatchRepo keeps batches that exhausted their import attempts.
type FailedBatchRepo struct {
	rdb   *redis.Client
	chain string
}

// NewFailedBatchRepo creates a new Redis-backed failed batch repository.
func NewFailedBatchRepo(client *Client, chain string) *FailedBatchRepo {
	return &FailedBatchRepo{
		rdb:   client.rdb,
		chain: chain,
	}
}

// Key helpers
func (r *FailedBatchRepo) queueKey() string {
	return fmt.Sprintf("failed_batches:%s", r.chain)
}

func (r *FailedBatchRepo) batchKey(id string) string {
	return fmt.Sprintf("failed_batch:%s:%s", r.chain, id)
}

// Add stores a failed batch. Re-adding an id bumps its retry count and keeps the first failure time.
func (r *FailedBatchRepo) Add(ctx context.Context, fb *domain.FailedBatch) error {
	existing, err := r.get(ctx, fb.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		fb.RetryCount = existing.RetryCount + 1
		fb.FirstFailed = existing.FirstFailed
	}
	if fb.FirstFailed.IsZero() {
		fb.FirstFailed = fb.LastAttempt
	}

	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("failed to marshal failed batch: %w", err)
	}

	// Score = retry count, lower = retry first
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.batchKey(fb.ID), data, failedBatchTTL)
		pipe.ZAdd(ctx, r.queueKey(), redis.Z{Score: float64(fb.RetryCount), Member: fb.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add failed batch: %w", err)
	}
	return nil
}

// GetNext retrieves the failed batch with the fewest retries.
func (r *FailedBatchRepo) GetNext(ctx context.Context) (*domain.FailedBatch, error) {
	for {
		results, err := r.rdb.ZRange(ctx, r.queueKey(), 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("zrange failed: %w", err)
		}
		if len(results) == 0 {
			return nil, nil
		}

		fb, err := r.get(ctx, results[0])
		if err != nil {
			return nil, err
		}
		if fb != nil {
			return fb, nil
		}
		// Payload expired but id still queued.
		if err := r.rdb.ZRem(ctx, r.queueKey(), results[0]).Err(); err != nil {
			return nil, fmt.Errorf("zrem failed: %w", err)
		}
	}
}

// List returns up to limit queued failed batches, fewest retries first. Expired payloads are skipped.
func (r *FailedBatchRepo) List(ctx context.Context, limit int) ([]*domain.FailedBatch, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := r.rdb.ZRange(ctx, r.queueKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	out := make([]*domain.FailedBatch, 0, len(ids))
	for _, id := range ids {
		fb, err := r.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if fb != nil {
			out = append(out, fb)
		}
	}
	return out, nil
}

// MarkResolved removes a failed batch (successfully replayed).
func (r *FailedBatchRepo) MarkResolved(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.queueKey(), id)
		pipe.Del(ctx, r.batchKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to resolve failed batch: %w", err)
	}
	return nil
}

// Count returns the number of queued failed batches.
func (r *FailedBatchRepo) Count(ctx context.Context) (int, error) {
	count, err := r.rdb.ZCard(ctx, r.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}

func (r *FailedBatchRepo) get(ctx context.Context, id string) (*domain.FailedBatch, error) {
	data, err := r.rdb.Get(ctx, r.batchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed batch: %w", err)
	}

	var fb domain.FailedBatch
	if err := json.Unmarshal(data, &fb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed batch: %w", err)
	}
	return &fb, nil
}
