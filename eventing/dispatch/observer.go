// Package dispatch 将聚合事件投递给声明了相应能力的观察者
//
// 观察者在启动时注册到 Registry，声明自己关心的 (聚合类型, 事件类型) 组合；
// Dispatcher 按注册顺序同步投递，并把序列号原样传给每个观察者。
// 同一聚合的事件顺序由调用方保证：调用方必须按序列号递增调用 Dispatch。
package dispatch

import (
	"context"

	"policykit/eventing"
)

// Wildcard 匹配任意聚合类型或事件类型
const Wildcard = "*"

// Subscription 观察者声明的能力
type Subscription struct {
	AggregateType string
	EventType     string
}

// On 构造订阅
func On(aggregateType, eventType string) Subscription {
	return Subscription{AggregateType: aggregateType, EventType: eventType}
}

// Delivery 一次投递的内容
type Delivery struct {
	Aggregate eventing.IAggregate
	Event     eventing.IEvent
	Sequence  uint64
}

// IObserver 聚合事件观察者
type IObserver interface {
	// ObserverType 观察者类型，用于 DispatchTo 的选择性投递，注册表内唯一
	ObserverType() string
	Subscriptions() []Subscription
	Observe(ctx context.Context, d Delivery) error
}

// ObserverFunc 以函数实现观察者
type ObserverFunc struct {
	Type string
	Subs []Subscription
	Fn   func(ctx context.Context, d Delivery) error
}

func (o *ObserverFunc) ObserverType() string          { return o.Type }
func (o *ObserverFunc) Subscriptions() []Subscription { return o.Subs }

func (o *ObserverFunc) Observe(ctx context.Context, d Delivery) error {
	return o.Fn(ctx, d)
}
