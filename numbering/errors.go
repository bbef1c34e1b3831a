package numbering

import (
	"policykit/errors"
)

var (
	// ErrPoolExhausted 没有可用号码，补充号码池后可恢复
	ErrPoolExhausted = errors.NewError(errors.ErrCodePoolExhausted, "号码池已耗尽")

	// ErrAlreadyConsumed 号码已被消费，通常意味着调用方缺陷或请求重放
	ErrAlreadyConsumed = errors.NewError(errors.ErrCodeAlreadyConsumed, "号码已被消费")

	// ErrNotReserved 号码当前不是预留状态
	ErrNotReserved = errors.NewError(errors.ErrCodeNotReserved, "号码未被预留")

	// ErrNumberNotFound 号码不在池中
	ErrNumberNotFound = errors.NewError(errors.ErrCodeNotFound, "号码不存在")

	// ErrConsumptionNotFound 台账中没有该号码
	ErrConsumptionNotFound = errors.NewError(errors.ErrCodeNotFound, "消费记录不存在")

	// ErrReservationContention 连续多次条件更新都被并发调用方抢先
	ErrReservationContention = errors.NewError(errors.ErrCodeConcurrency, "号码预留竞争失败")
)

// PoolExhausted 构造带租户与类别上下文的 ErrPoolExhausted
func PoolExhausted(tenantID string, category Category) error {
	return ErrPoolExhausted.
		WithContext("tenant_id", tenantID).
		WithContext("category", string(category))
}

// KeyError 构造带号码键上下文的错误
func KeyError(base errors.IError, key Key) error {
	return base.
		WithContext("tenant_id", key.TenantID).
		WithContext("category", string(key.Category)).
		WithContext("number", key.Number)
}

func invalidInput(msg string) error {
	return errors.NewError(errors.ErrCodeInvalidInput, msg)
}
