package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"policykit/errors"
)

var (
	// ErrSequenceGap 收到的序列号跳过了中间位置
	ErrSequenceGap = errors.NewError(errors.ErrCodeSequenceGap, "事件序列出现缺口")
	// ErrSequenceReplay 收到的序列号不大于已处理位置
	ErrSequenceReplay = errors.NewError(errors.ErrCodeSequenceReplay, "事件序列重放")
)

type aggregateKey struct {
	typ string
	id  uuid.UUID
}

// SequenceGuard 记录每个聚合已处理到的序列号，检测缺口与重放
//
// 某聚合第一次出现时接受任意序列号；需要从持久化位置恢复时先调用 Restore。
type SequenceGuard struct {
	mu        sync.Mutex
	positions map[aggregateKey]uint64
}

// NewSequenceGuard 创建序列守卫
func NewSequenceGuard() *SequenceGuard {
	return &SequenceGuard{positions: make(map[aggregateKey]uint64)}
}

func keyOf(d Delivery) aggregateKey {
	return aggregateKey{typ: d.Aggregate.GetAggregateType(), id: d.Aggregate.RawID()}
}

// Restore 设置聚合的已处理位置
func (g *SequenceGuard) Restore(aggregateType string, id uuid.UUID, position uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[aggregateKey{typ: aggregateType, id: id}] = position
}

// Position 返回聚合的已处理位置
func (g *SequenceGuard) Position(aggregateType string, id uuid.UUID) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.positions[aggregateKey{typ: aggregateType, id: id}]
	return p, ok
}

// Check 校验序列号但不推进位置
func (g *SequenceGuard) Check(d Delivery) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkLocked(d)
}

func (g *SequenceGuard) checkLocked(d Delivery) error {
	last, seen := g.positions[keyOf(d)]
	if !seen {
		return nil
	}
	switch {
	case d.Sequence <= last:
		return ErrSequenceReplay.
			WithContext("expected", last+1).
			WithContext("got", d.Sequence)
	case d.Sequence > last+1:
		return ErrSequenceGap.
			WithContext("expected", last+1).
			WithContext("got", d.Sequence)
	}
	return nil
}

// Accept 校验并推进位置
func (g *SequenceGuard) Accept(d Delivery) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkLocked(d); err != nil {
		return err
	}
	g.positions[keyOf(d)] = d.Sequence
	return nil
}

// Guarded 在观察者外层加序列校验；只有处理成功才推进位置
func Guarded(o IObserver, guard *SequenceGuard) IObserver {
	return &guardedObserver{IObserver: o, guard: guard}
}

type guardedObserver struct {
	IObserver
	guard *SequenceGuard
}

func (g *guardedObserver) Observe(ctx context.Context, d Delivery) error {
	if err := g.guard.Check(d); err != nil {
		return err
	}
	if err := g.IObserver.Observe(ctx, d); err != nil {
		return err
	}
	return g.guard.Accept(d)
}
