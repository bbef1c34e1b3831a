package numbering

import (
	"context"
	"sync"
	"time"

	"policykit/domain/entity"
)

type poolKey struct {
	tenantID string
	category Category
}

type memoryPool struct {
	entries   map[string]*Entry
	available []string // FIFO，可能含已被 Release/Reserve 变更过的过期项
}

// MemoryStore 进程内实现
//
// 仅适用于单进程场景与测试；跨进程部署必须使用 sqlstore 或 redisstore。
type MemoryStore struct {
	mu           sync.Mutex
	pools        map[poolKey]*memoryPool
	consumptions map[Key]*Consumption
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:        make(map[poolKey]*memoryPool),
		consumptions: make(map[Key]*Consumption),
	}
}

func (s *MemoryStore) pool(tenantID string, category Category, create bool) *memoryPool {
	k := poolKey{tenantID: tenantID, category: category}
	p, ok := s.pools[k]
	if !ok && create {
		p = &memoryPool{entries: make(map[string]*Entry)}
		s.pools[k] = p
	}
	return p
}

func (s *MemoryStore) Add(_ context.Context, tenantID string, category Category, numbers []string) (AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pool(tenantID, category, true)
	var added, duplicates []string
	for _, n := range numbers {
		if _, exists := p.entries[n]; exists {
			duplicates = append(duplicates, n)
			continue
		}
		p.entries[n] = &Entry{
			Key:    Key{TenantID: tenantID, Category: category, Number: n},
			Status: StatusAvailable,
		}
		p.available = append(p.available, n)
		added = append(added, n)
	}
	return NewAddResult(added, duplicates), nil
}

func (s *MemoryStore) Reserve(_ context.Context, tenantID string, category Category, at time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pool(tenantID, category, false)
	if p == nil {
		return Entry{}, PoolExhausted(tenantID, category)
	}
	for len(p.available) > 0 {
		n := p.available[0]
		p.available = p.available[1:]
		e := p.entries[n]
		if e.Status != StatusAvailable {
			continue
		}
		e.Status = StatusReserved
		e.ReservedAt = entity.TruncateToTick(at)
		return *e, nil
	}
	return Entry{}, PoolExhausted(tenantID, category)
}

func (s *MemoryStore) Release(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(key)
}

func (s *MemoryStore) releaseLocked(key Key) error {
	p := s.pool(key.TenantID, key.Category, false)
	if p == nil {
		return KeyError(ErrNumberNotFound, key)
	}
	e, ok := p.entries[key.Number]
	if !ok {
		return KeyError(ErrNumberNotFound, key)
	}
	if _, consumed := s.consumptions[key]; consumed {
		return KeyError(ErrAlreadyConsumed, key)
	}
	if e.Status != StatusReserved {
		return KeyError(ErrNotReserved, key)
	}
	e.Status = StatusAvailable
	e.ReservedAt = time.Time{}
	p.available = append(p.available, key.Number)
	return nil
}

func (s *MemoryStore) ReleaseExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for _, p := range s.pools {
		for _, e := range p.entries {
			if e.Status != StatusReserved || !e.ReservedAt.Before(before) {
				continue
			}
			if _, consumed := s.consumptions[e.Key]; consumed {
				continue
			}
			if err := s.releaseLocked(e.Key); err == nil {
				released++
			}
		}
	}
	return released, nil
}

func (s *MemoryStore) Consume(_ context.Context, c *Consumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := c.Key()
	if _, consumed := s.consumptions[key]; consumed {
		return KeyError(ErrAlreadyConsumed, key)
	}
	p := s.pool(key.TenantID, key.Category, false)
	if p == nil {
		return KeyError(ErrNumberNotFound, key)
	}
	e, ok := p.entries[key.Number]
	if !ok {
		return KeyError(ErrNumberNotFound, key)
	}
	if e.Status != StatusReserved {
		return KeyError(ErrNotReserved, key)
	}
	stored := *c
	s.consumptions[key] = &stored
	return nil
}

func (s *MemoryStore) GetConsumption(_ context.Context, key Key) (*Consumption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.consumptions[key]
	if !ok {
		return nil, KeyError(ErrConsumptionNotFound, key)
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) Stats(_ context.Context, tenantID string, category Category) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	p := s.pool(tenantID, category, false)
	if p == nil {
		return st, nil
	}
	for _, e := range p.entries {
		switch {
		case s.consumptions[e.Key] != nil:
			st.Consumed++
		case e.Status == StatusReserved:
			st.Reserved++
		default:
			st.Available++
		}
	}
	return st, nil
}
