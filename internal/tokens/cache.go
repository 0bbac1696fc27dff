package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache 抽象白名单的缓存后端。
type Cache interface {
	Get(ctx context.Context) ([]Token, bool, error)
	Set(ctx context.Context, entries []Token) error
}

// MemoryCache 是进程生命周期内一次性填充的缓存，没有失效机制。
type MemoryCache struct {
	entries []Token
	loaded  bool
}

// NewMemoryCache 创建内存缓存。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// Get 返回缓存内容。调用方持有 Directory 锁，这里不再加锁。
func (c *MemoryCache) Get(_ context.Context) ([]Token, bool, error) {
	if !c.loaded {
		return nil, false, nil
	}
	return c.entries, true, nil
}

// Set 记录白名单内容。
func (c *MemoryCache) Set(_ context.Context, entries []Token) error {
	c.entries = entries
	c.loaded = true
	return nil
}

// RedisCache 以 TTL 方式缓存白名单，供多实例部署时共享并保证新鲜度。
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCache 创建 Redis 缓存。
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, key: "onboard:tokenlist:sonic", ttl: ttl}
}

// Get 读取缓存，未命中时返回 ok=false。
func (c *RedisCache) Get(ctx context.Context) ([]Token, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("读取代币缓存失败: %w", err)
	}
	var entries []Token
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("解析代币缓存失败: %w", err)
	}
	return entries, true, nil
}

// Set 写入缓存并设置过期时间。
func (c *RedisCache) Set(ctx context.Context, entries []Token) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("序列化代币缓存失败: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("写入代币缓存失败: %w", err)
	}
	return nil
}
