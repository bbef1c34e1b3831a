// Package eventing 定义聚合领域事件
//
// 事件只描述"发生了什么"；在聚合历史中的位置（序列号）由分发方单独传递，
// 见 eventing/dispatch。
package eventing

import (
	"time"

	"github.com/google/uuid"
)

// IAggregate 事件来源聚合
//
// 任何嵌入 entity.Entity 并声明聚合类型的实体都满足该接口。
type IAggregate interface {
	RawID() uuid.UUID
	GetAggregateType() string
}

// IEvent 领域事件接口
type IEvent interface {
	GetID() string
	GetType() string
	GetTimestamp() time.Time
	GetPayload() any
	GetMetadata() map[string]any
}

// Event 领域事件实现
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent 创建事件
func NewEvent(eventType string, payload any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  make(map[string]any),
	}
}

func (e *Event) GetID() string           { return e.ID }
func (e *Event) GetType() string         { return e.Type }
func (e *Event) GetTimestamp() time.Time { return e.Timestamp }
func (e *Event) GetPayload() any         { return e.Payload }

// GetMetadata 获取元数据
func (e *Event) GetMetadata() map[string]any {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	return e.Metadata
}

// SetMetadata 设置元数据
func (e *Event) SetMetadata(key string, value any) {
	e.GetMetadata()[key] = value
}

// AggregateRef 只携带身份的聚合引用，用于不持有完整聚合的分发场景
type AggregateRef struct {
	ID   uuid.UUID
	Type string
}

func (r AggregateRef) RawID() uuid.UUID         { return r.ID }
func (r AggregateRef) GetAggregateType() string { return r.Type }

// Recorded 聚合已记录、尚未分发的事件及其序列号
type Recorded struct {
	Event    IEvent
	Sequence uint64
}

// IEventSource 携带待分发事件的聚合
type IEventSource interface {
	IAggregate
	PendingEvents() []Recorded
	// MarkDispatched 丢弃序列号不大于 through 的待分发事件
	MarkDispatched(through uint64)
}
