// Package cache は計算コストの高い集計結果を一時保存する。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache はキー・値キャッシュの抽象。Getは未登録のキーに対してfalseを返す。
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisCache はRedisを使用したCache実装。
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache はredis:// 形式のURLからRedisCacheを生成する。
func NewRedisCache(redisURL, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLの解析に失敗しました: %w", err)
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	return &RedisCache{client: redis.NewClient(opts), prefix: prefix}, nil
}

// Ping はRedisへの疎通を確認する。
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close は接続を閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.prefix + k
	}
	return c.client.Del(ctx, prefixed...).Err()
}

// Nop は何も保存しないCache実装。REDIS_URL未設定時に使用する。
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, ...string) error                  { return nil }

// GetJSON はキャッシュ値をJSONとしてdstに復元する。
// 未登録・取得失敗・デコード失敗はいずれもfalseを返す。
func GetJSON(ctx context.Context, c Cache, key string, dst any) bool {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// SetJSON はvalueをJSONにエンコードして保存する。
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = Nop{}
)
