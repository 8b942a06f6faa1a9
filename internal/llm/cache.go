// internal/llm/cache.go
package llm

import (
	"context"
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheExpiration = 30 * time.Minute
	defaultCacheMaxEntries = 1000
	cacheEvictBatch        = 100
)

// TextCache 文本响应缓存
type TextCache struct {
	cache      map[string]*CacheEntry
	mutex      sync.RWMutex
	expiration time.Duration
	maxEntries int
	now        func() time.Time
}

// CacheEntry 缓存条目
type CacheEntry struct {
	Response  CompletionResponse
	CreatedAt time.Time
}

// NewTextCache creates a cache; zero values select 30 minutes and 1000 entries.
func NewTextCache(expiration time.Duration, maxEntries int) *TextCache {
	if expiration <= 0 {
		expiration = defaultCacheExpiration
	}
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}
	return &TextCache{
		cache:      make(map[string]*CacheEntry),
		expiration: expiration,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// CacheKey 生成缓存键
func CacheKey(req CompletionRequest, providerName string) string {
	tools := make([]string, len(req.Tools))
	for i, tool := range req.Tools {
		tools[i] = string(tool)
	}

	hashInput := fmt.Sprintf("%s:::%s:::%s:::%s:::%s",
		req.Prompt, req.SystemPrompt, req.Model, providerName, strings.Join(tools, ","))
	return fmt.Sprintf("%x", md5.Sum([]byte(hashInput)))
}

// Get 从缓存中获取结果
func (c *TextCache) Get(key string) (*CompletionResponse, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists {
		return nil, false
	}

	// 检查是否过期
	if c.now().Sub(entry.CreatedAt) > c.expiration {
		return nil, false
	}

	response := entry.Response
	return &response, true
}

// Put 保存结果到缓存
func (c *TextCache) Put(key string, response CompletionResponse) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[key] = &CacheEntry{
		Response:  response,
		CreatedAt: c.now(),
	}

	if len(c.cache) > c.maxEntries {
		c.cleanupOldest(cacheEvictBatch)
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *TextCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}

// cleanupOldest 清理最旧的缓存条目
func (c *TextCache) cleanupOldest(count int) {
	type keyAge struct {
		key string
		age time.Time
	}

	entries := make([]keyAge, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, keyAge{k, v.CreatedAt})
	}

	// 按创建时间排序
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].age.Before(entries[j].age)
	})

	maxToDelete := min(count, len(entries))
	for i := 0; i < maxToDelete; i++ {
		delete(c.cache, entries[i].key)
	}
}

// CachedProvider decorates a Provider with a TextCache for GenerateText. All other
// calls pass through untouched.
type CachedProvider struct {
	Provider
	cache *TextCache
}

// WithCache wraps provider with cache.
func WithCache(provider Provider, cache *TextCache) *CachedProvider {
	return &CachedProvider{Provider: provider, cache: cache}
}

// GenerateText serves repeated prompts from the cache.
func (p *CachedProvider) GenerateText(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	key := CacheKey(req, p.Provider.GetName())
	if cached, ok := p.cache.Get(key); ok {
		return cached, nil
	}

	resp, err := p.Provider.GenerateText(ctx, req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Text) != "" {
		p.cache.Put(key, *resp)
	}
	return resp, nil
}
