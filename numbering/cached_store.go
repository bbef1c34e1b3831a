package numbering

import (
	"context"

	"policykit/cache"
)

// CachedStore 缓存消费台账查询
//
// 台账只追加不修改，命中后无需失效；其余操作直接透传给下层存储。
type CachedStore struct {
	IStore
	ledger *cache.Cache[Key, Consumption]
}

// NewCachedStore 包装 next；cfg.MaxSize 为 0 时不限制条目数
func NewCachedStore(next IStore, cfg cache.Config) *CachedStore {
	if cfg.Name == "" {
		cfg.Name = "consumption_ledger"
	}
	return &CachedStore{IStore: next, ledger: cache.New[Key, Consumption](cfg)}
}

var _ IStore = (*CachedStore)(nil)

// Consume 成功后写入缓存
func (s *CachedStore) Consume(ctx context.Context, c *Consumption) error {
	if err := s.IStore.Consume(ctx, c); err != nil {
		return err
	}
	s.ledger.Set(c.Key(), *c)
	return nil
}

// GetConsumption 优先读缓存；未找到的结果不缓存
func (s *CachedStore) GetConsumption(ctx context.Context, key Key) (*Consumption, error) {
	if c, ok := s.ledger.Get(key); ok {
		return &c, nil
	}
	c, err := s.IStore.GetConsumption(ctx, key)
	if err != nil {
		return nil, err
	}
	s.ledger.Set(key, *c)
	return c, nil
}

// CacheStats 台账缓存统计
func (s *CachedStore) CacheStats() cache.Stats {
	return s.ledger.Stats()
}
