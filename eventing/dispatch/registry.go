package dispatch

import (
	"fmt"
	"strings"
	"sync"
)

// Registry 观察者注册表
//
// 启动阶段填充，之后作为只读查找表使用；查找结果保持注册顺序。
type Registry struct {
	mu        sync.RWMutex
	observers []IObserver
	byType    map[string]IObserver
	index     map[Subscription][]int
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string]IObserver),
		index:  make(map[Subscription][]int),
	}
}

// Register 注册观察者
func (r *Registry) Register(o IObserver) error {
	if o == nil {
		return fmt.Errorf("observer cannot be nil")
	}
	typ := strings.TrimSpace(o.ObserverType())
	if typ == "" {
		return fmt.Errorf("observer type cannot be empty")
	}
	subs := o.Subscriptions()
	if len(subs) == 0 {
		return fmt.Errorf("observer %s declares no subscriptions", typ)
	}
	for _, s := range subs {
		if s.AggregateType == "" || s.EventType == "" {
			return fmt.Errorf("observer %s has an incomplete subscription %+v", typ, s)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byType[typ]; exists {
		return fmt.Errorf("observer type already registered: %s", typ)
	}
	pos := len(r.observers)
	r.observers = append(r.observers, o)
	r.byType[typ] = o
	for _, s := range subs {
		r.index[s] = append(r.index[s], pos)
	}
	return nil
}

// MustRegister 注册观察者（失败 panic）
func (r *Registry) MustRegister(observers ...IObserver) {
	for _, o := range observers {
		if err := r.Register(o); err != nil {
			panic(err)
		}
	}
}

// Lookup 返回能处理该 (聚合类型, 事件类型) 的观察者，按注册顺序
func (r *Registry) Lookup(aggregateType, eventType string) []IObserver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[int]struct{})
	for _, key := range []Subscription{
		{aggregateType, eventType},
		{aggregateType, Wildcard},
		{Wildcard, eventType},
		{Wildcard, Wildcard},
	} {
		for _, pos := range r.index[key] {
			seen[pos] = struct{}{}
		}
	}

	out := make([]IObserver, 0, len(seen))
	for pos, o := range r.observers {
		if _, ok := seen[pos]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Observer 按类型查找观察者
func (r *Registry) Observer(observerType string) (IObserver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byType[observerType]
	return o, ok
}

// Types 已注册的观察者类型，按注册顺序
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.observers))
	for i, o := range r.observers {
		out[i] = o.ObserverType()
	}
	return out
}
