package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const waitingPoolKey = "drift:waiting"

// RedisPool is a Redis-backed pool implementation. Entries live in a sorted
// set scored by enqueue time, so FIFO order survives a process restart.
type RedisPool struct {
	client *redis.Client
}

var _ Pool = (*RedisPool)(nil)

// NewRedisPool creates a pool backed by the given Redis client.
func NewRedisPool(client *redis.Client) *RedisPool {
	return &RedisPool{client: client}
}

// Enqueue adds a user scored by since. ZADD NX keeps the original position
// of a user who is already waiting.
func (p *RedisPool) Enqueue(ctx context.Context, userID string, since time.Time) error {
	err := p.client.ZAddNX(ctx, waitingPoolKey, redis.Z{
		Score:  float64(since.UnixNano()),
		Member: userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", userID, err)
	}
	return nil
}

// DequeueCandidate removes and returns the oldest entry other than excluding.
// ZREM is the claim: an entry removed by a concurrent caller is skipped.
func (p *RedisPool) DequeueCandidate(ctx context.Context, excluding string) (string, time.Time, bool, error) {
	const batch = 8
	offset := int64(0)
	for {
		entries, err := p.client.ZRangeWithScores(ctx, waitingPoolKey, offset, offset+batch-1).Result()
		if err != nil {
			return "", time.Time{}, false, fmt.Errorf("scan waiting pool: %w", err)
		}
		if len(entries) == 0 {
			return "", time.Time{}, false, nil
		}
		for _, entry := range entries {
			id, ok := entry.Member.(string)
			if !ok || id == excluding {
				continue
			}
			removed, remErr := p.client.ZRem(ctx, waitingPoolKey, id).Result()
			if remErr != nil {
				return "", time.Time{}, false, fmt.Errorf("claim candidate %s: %w", id, remErr)
			}
			if removed > 0 {
				return id, time.Unix(0, int64(entry.Score)), true, nil
			}
		}
		offset += batch
	}
}

// Remove deletes a user from the pool if present.
func (p *RedisPool) Remove(ctx context.Context, userID string) error {
	if err := p.client.ZRem(ctx, waitingPoolKey, userID).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", userID, err)
	}
	return nil
}

// Len returns the number of users in the pool.
func (p *RedisPool) Len(ctx context.Context) (int, error) {
	n, err := p.client.ZCard(ctx, waitingPoolKey).Result()
	if err != nil {
		return 0, fmt.Errorf("waiting pool size: %w", err)
	}
	return int(n), nil
}
