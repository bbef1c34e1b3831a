package dispatch

import (
	"context"
	stdErrors "errors"
	"runtime/debug"
	"strings"
	"time"

	"policykit/errors"
	"policykit/eventing"
	"policykit/logging"
)

// Dispatcher 聚合事件分发器
//
// 同步、按注册顺序投递。失败按观察者隔离：每个候选观察者都会收到事件，
// 所有失败（包括 panic）汇总为 *DispatchError 返回。
type Dispatcher struct {
	registry *Registry
	logger   logging.Logger
	metrics  *Metrics
}

// Option 分发器选项
type Option func(*Dispatcher)

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher 创建分发器
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   logging.OrGlobal(nil, "eventing.dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch 投递给所有能处理该事件的观察者
func (d *Dispatcher) Dispatch(ctx context.Context, aggregate eventing.IAggregate, event eventing.IEvent, seq uint64) error {
	if err := validate(aggregate, event); err != nil {
		return err
	}
	return d.deliver(ctx, Delivery{Aggregate: aggregate, Event: event, Sequence: seq}, nil)
}

// DispatchTo 仅投递给 observerTypes 中列出的观察者
//
// 不在列表中的观察者即使具备处理能力也收不到事件；空列表不投递任何观察者。
func (d *Dispatcher) DispatchTo(ctx context.Context, aggregate eventing.IAggregate, event eventing.IEvent, seq uint64, observerTypes ...string) error {
	if err := validate(aggregate, event); err != nil {
		return err
	}
	allowed := make(map[string]struct{}, len(observerTypes))
	for _, t := range observerTypes {
		allowed[t] = struct{}{}
	}
	return d.deliver(ctx, Delivery{Aggregate: aggregate, Event: event, Sequence: seq}, allowed)
}

// DispatchPending 按序列号顺序分发聚合的全部待分发事件，并标记为已分发
//
// 某个事件的观察者失败不会阻止后续事件；失败的观察者会在之后的序列号上看到缺口，
// 可用 SequenceGuard 检测。返回值为各事件 *DispatchError 的合并。
func (d *Dispatcher) DispatchPending(ctx context.Context, source eventing.IEventSource) error {
	if source == nil {
		return errors.NewError(errors.ErrCodeInvalidInput, "event source is required")
	}
	pending := source.PendingEvents()
	if len(pending) == 0 {
		return nil
	}
	for _, rec := range pending {
		if err := validate(source, rec.Event); err != nil {
			return err
		}
	}

	var errs []error
	for _, rec := range pending {
		if err := d.deliver(ctx, Delivery{Aggregate: source, Event: rec.Event, Sequence: rec.Sequence}, nil); err != nil {
			errs = append(errs, err)
		}
	}
	source.MarkDispatched(pending[len(pending)-1].Sequence)
	return stdErrors.Join(errs...)
}

func validate(aggregate eventing.IAggregate, event eventing.IEvent) error {
	if aggregate == nil || event == nil {
		return errors.NewError(errors.ErrCodeInvalidInput, "aggregate and event are required")
	}
	if strings.TrimSpace(aggregate.GetAggregateType()) == "" || strings.TrimSpace(event.GetType()) == "" {
		return errors.NewError(errors.ErrCodeInvalidInput, "aggregate type and event type are required")
	}
	return nil
}

// deliver allowed 为 nil 表示不过滤
func (d *Dispatcher) deliver(ctx context.Context, delivery Delivery, allowed map[string]struct{}) error {
	aggType := delivery.Aggregate.GetAggregateType()
	evtType := delivery.Event.GetType()

	var failures []ObserverFailure
	for _, o := range d.registry.Lookup(aggType, evtType) {
		typ := o.ObserverType()
		if allowed != nil {
			if _, ok := allowed[typ]; !ok {
				continue
			}
		}

		start := time.Now()
		panicked, err := d.observe(ctx, o, delivery)
		d.metrics.observe(typ, time.Since(start), err, panicked)
		if err == nil {
			continue
		}

		failures = append(failures, ObserverFailure{ObserverType: typ, Err: err, Panicked: panicked})
		d.logger.Error(ctx, "观察者处理事件失败",
			logging.String("observer", typ),
			logging.String("aggregate_type", aggType),
			logging.Stringer("aggregate_id", delivery.Aggregate.RawID()),
			logging.String("event_type", evtType),
			logging.Uint64("sequence", delivery.Sequence),
			logging.Bool("panicked", panicked),
			logging.Error(err))
	}

	if len(failures) == 0 {
		return nil
	}
	return &DispatchError{
		AggregateType: aggType,
		AggregateID:   delivery.Aggregate.RawID(),
		EventType:     evtType,
		Sequence:      delivery.Sequence,
		Failures:      failures,
	}
}

func (d *Dispatcher) observe(ctx context.Context, o IObserver, delivery Delivery) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return false, o.Observe(ctx, delivery)
}
