// Package cache 提供带容量上限与过期时间的泛型缓存
//
// 底层为 hashicorp/golang-lru 的 expirable LRU，本包补充命名与命中统计。
package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Config 缓存配置
type Config struct {
	// Name 缓存名称（用于日志和统计）
	Name string

	// MaxSize 最大条目数，0 表示不限制
	MaxSize int

	// TTL 自写入起的存活时间，0 表示永不过期
	TTL time.Duration
}

// Stats 缓存统计
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64 // 容量驱逐次数，不含过期
	Size      int
}

// Cache 并发安全的泛型缓存
type Cache[K comparable, V any] struct {
	name string
	lru  *expirable.LRU[K, V]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New 创建缓存
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	return &Cache[K, V]{
		name: config.Name,
		lru:  expirable.NewLRU[K, V](max(config.MaxSize, 0), nil, config.TTL),
	}
}

// Get 读取并刷新 LRU 位置
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set 写入；超过容量时驱逐最久未使用的条目
func (c *Cache[K, V]) Set(key K, value V) {
	if c.lru.Add(key, value) {
		c.evictions.Add(1)
	}
}

// Delete 删除，返回条目是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	return c.lru.Remove(key)
}

// Clear 清空全部条目，统计保留
func (c *Cache[K, V]) Clear() {
	c.lru.Purge()
}

// Size 当前条目数（含尚未清理的过期条目）
func (c *Cache[K, V]) Size() int {
	return c.lru.Len()
}

// Stats 统计快照
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
	}
}

// HitRate 命中率，无访问时为 0
func (c *Cache[K, V]) HitRate() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]{size=%d, hits=%d, misses=%d, evictions=%d, hitRate=%.2f%%}",
		c.name, s.Size, s.Hits, s.Misses, s.Evictions, c.HitRate()*100)
}
