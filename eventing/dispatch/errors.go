package dispatch

import (
	stdErrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"policykit/errors"
)

// ErrObserverDispatch 观察者处理失败；*DispatchError 与之匹配
var ErrObserverDispatch = errors.NewError(errors.ErrCodeObserverDispatch, "观察者处理事件失败")

// ObserverFailure 单个观察者的失败
type ObserverFailure struct {
	ObserverType string
	Err          error
	Panicked     bool
}

// DispatchError 一次投递中所有观察者失败的汇总
//
// 失败互相隔离：某个观察者失败不会阻止后续观察者收到同一事件。
type DispatchError struct {
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Sequence      uint64
	Failures      []ObserverFailure
}

func (e *DispatchError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.ObserverType, f.Err)
	}
	return fmt.Sprintf("[%s] %s %s#%d: %d observer(s) failed: %s",
		errors.ErrCodeObserverDispatch, e.AggregateType, e.EventType, e.Sequence,
		len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap 暴露每个观察者的原始错误，供 errors.Is / errors.As 遍历
func (e *DispatchError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// Is 与 OBSERVER_DISPATCH_FAILED 错误码匹配
func (e *DispatchError) Is(target error) bool {
	var appErr errors.IError
	if stdErrors.As(target, &appErr) {
		return appErr.Code() == errors.ErrCodeObserverDispatch
	}
	return false
}

// Failed 某个观察者类型是否在失败列表中
func (e *DispatchError) Failed(observerType string) bool {
	for _, f := range e.Failures {
		if f.ObserverType == observerType {
			return true
		}
	}
	return false
}

// PanicError 观察者 panic 的转换结果
type PanicError struct {
	Value any
	Stack string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("observer panic: %v", p.Value)
}
