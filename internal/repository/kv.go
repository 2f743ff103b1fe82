package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-setpoint/internal/models"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss 表示缓存不存在
var ErrCacheMiss = errors.New("cache miss")

// KVStore 抽象的 KV 存储（用于在单元测试中替换 Redis）
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// RedisKVStore 基于 go-redis 的 KV 实现
type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// RunSummaryRepository 最近一次运行汇总（供外部可观测层读取）
type RunSummaryRepository struct {
	kv  KVStore
	key string
	ttl time.Duration
}

// NewRunSummaryRepository 创建运行汇总仓库
func NewRunSummaryRepository(kv KVStore, key string, ttl time.Duration) *RunSummaryRepository {
	return &RunSummaryRepository{kv: kv, key: key, ttl: ttl}
}

// SaveLast 保存最近一次运行汇总
func (r *RunSummaryRepository) SaveLast(ctx context.Context, result *models.RunResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal run result: %w", err)
	}
	if err := r.kv.Set(ctx, r.key, string(payload), r.ttl); err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}
	return nil
}

// GetLast 读取最近一次运行汇总，不存在时返回 ErrCacheMiss
func (r *RunSummaryRepository) GetLast(ctx context.Context) (*models.RunResult, error) {
	val, err := r.kv.Get(ctx, r.key)
	if err != nil {
		return nil, err
	}
	var result models.RunResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
	}
	return &result, nil
}
