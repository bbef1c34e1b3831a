package entity

import (
	"time"

	"policykit/eventing"
)

// Aggregate 可变实体 + 待分发事件
//
// 每记录一个事件版本号加一，版本号即该事件在聚合历史中的序列号（从 1 开始）。
//
//	type Policy struct {
//	    entity.Aggregate[Policy]
//	    Number string
//	}
type Aggregate[Owner any] struct {
	MutableEntity[Owner]
	aggregateType string
	version       uint64
	pending       []eventing.Recorded
}

// NewAggregate 创建聚合
func NewAggregate[Owner any](aggregateType string, id ID[Owner], createdAt time.Time) Aggregate[Owner] {
	return Aggregate[Owner]{
		MutableEntity: NewMutableEntity(id, createdAt),
		aggregateType: aggregateType,
	}
}

// ReconstituteAggregate 从存储还原聚合，仅供持久化层使用
func (a *Aggregate[Owner]) ReconstituteAggregate(aggregateType string, id ID[Owner], createdTicks, lastModifiedTicks int64, version uint64) {
	if !a.id.IsEmpty() {
		return
	}
	a.ReconstituteMutable(id, createdTicks, lastModifiedTicks)
	a.aggregateType = aggregateType
	a.version = version
	a.pending = nil
}

func (a *Aggregate[Owner]) GetAggregateType() string { return a.aggregateType }

// Version 已记录事件数
func (a *Aggregate[Owner]) Version() uint64 { return a.version }

// Record 在 Mutate 中执行 fn，成功后追加事件并刷新最后修改时间
//
// fn 返回错误或 now 早于创建时间时，版本与待分发事件都不变。
func (a *Aggregate[Owner]) Record(now time.Time, evt eventing.IEvent, fn func() error) error {
	if evt == nil {
		return ErrNilEvent
	}
	return a.Mutate(now, func() error {
		if fn != nil {
			if err := fn(); err != nil {
				return err
			}
		}
		a.version++
		a.pending = append(a.pending, eventing.Recorded{Event: evt, Sequence: a.version})
		return nil
	})
}

// PendingEvents 待分发事件（按序列号升序）的副本
func (a *Aggregate[Owner]) PendingEvents() []eventing.Recorded {
	return append([]eventing.Recorded(nil), a.pending...)
}

// MarkDispatched 丢弃序列号不大于 through 的待分发事件
func (a *Aggregate[Owner]) MarkDispatched(through uint64) {
	i := 0
	for i < len(a.pending) && a.pending[i].Sequence <= through {
		i++
	}
	a.pending = a.pending[i:]
}
