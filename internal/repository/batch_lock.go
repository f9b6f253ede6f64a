package repository

import (
	"context"
	"github.com/go-redis/redis/v8"
	"time"
)

// BatchLock 保证同一批次同一时刻只被一个 worker 处理。
type BatchLock interface {
	Acquire(ctx context.Context, batchID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, batchID string) error
}

type redisBatchLock struct {
	redisClient *redis.Client
}

// NewBatchLock 创建基于 Redis SETNX 的批次锁。
func NewBatchLock(redisClient *redis.Client) BatchLock {
	return &redisBatchLock{redisClient: redisClient}
}

func (l *redisBatchLock) key(batchID string) string {
	return "batch:lock:" + batchID
}

func (l *redisBatchLock) Acquire(ctx context.Context, batchID string, ttl time.Duration) (bool, error) {
	return l.redisClient.SetNX(ctx, l.key(batchID), 1, ttl).Result()
}

func (l *redisBatchLock) Release(ctx context.Context, batchID string) error {
	return l.redisClient.Del(ctx, l.key(batchID)).Err()
}
