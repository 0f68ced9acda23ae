package cache

import (
	"sync"
	"time"

	"github.com/charging-platform/central-system/internal/domain/model"
)

// AuthEntry 一次授权标识解析的缓存结果
// 未命中存储的标识也会被缓存(User为nil)，挡住重复的无效刷卡查询。
type AuthEntry struct {
	User   *model.User
	Method *model.AuthorizationMethod
}

type cacheItem struct {
	entry     AuthEntry
	expiresAt time.Time
}

// AuthCache 授权标识到用户的带TTL内存缓存
type AuthCache struct {
	mu    sync.RWMutex
	items map[string]cacheItem
	ttl   time.Duration
}

// NewAuthCache 创建授权缓存，ttl为0时使用60秒
func NewAuthCache(ttl time.Duration) *AuthCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &AuthCache{
		items: make(map[string]cacheItem),
		ttl:   ttl,
	}
}

// Get 按授权标识取缓存结果，过期条目视为未命中并被清除
func (c *AuthCache) Get(identifier string) (AuthEntry, bool) {
	c.mu.RLock()
	item, ok := c.items[identifier]
	c.mu.RUnlock()
	if !ok {
		return AuthEntry{}, false
	}
	if time.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, identifier)
		c.mu.Unlock()
		return AuthEntry{}, false
	}
	return item.entry, true
}

// Set 写入授权解析结果
func (c *AuthCache) Set(identifier string, entry AuthEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[identifier] = cacheItem{
		entry:     entry,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate 删除单个标识的缓存
func (c *AuthCache) Invalidate(identifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, identifier)
}

// Len 当前缓存条目数
func (c *AuthCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
