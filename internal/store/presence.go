package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/charging-platform/central-system/internal/config"
)

// RedisPresenceStore 基于Redis的在线状态存储
type RedisPresenceStore struct {
	Client *redis.Client
	Prefix string
}

// NewRedisPresenceStore 创建Redis在线状态存储
func NewRedisPresenceStore(cfg config.RedisConfig) (*RedisPresenceStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	return &RedisPresenceStore{Client: client, Prefix: "presence:"}, nil
}

// SetPresence 注册或刷新站点与服务实例的归属
func (r *RedisPresenceStore) SetPresence(ctx context.Context, stationID string, podID string, ttl time.Duration) error {
	key := r.Prefix + stationID
	return r.Client.Set(ctx, key, podID, ttl).Err()
}

// GetPresence 获取站点当前归属的服务实例ID
// 键不存在时返回ErrNotFound。
func (r *RedisPresenceStore) GetPresence(ctx context.Context, stationID string) (string, error) {
	key := r.Prefix + stationID
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return val, err
}

// DeletePresence 删除站点的归属记录
func (r *RedisPresenceStore) DeletePresence(ctx context.Context, stationID string) error {
	key := r.Prefix + stationID
	return r.Client.Del(ctx, key).Err()
}

// Close 关闭与存储后端的连接
func (r *RedisPresenceStore) Close() error {
	return r.Client.Close()
}
