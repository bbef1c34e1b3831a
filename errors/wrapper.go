package errors

import (
	"context"
	"fmt"
	"runtime"

	"policykit/logging"
)

// WrapWithLog 包装错误并记录警告日志
// 用于需要在边界处立即留痕的错误（例如号码台账写入失败）
func WrapWithLog(ctx context.Context, err error, code ErrorCode, msg string, fields ...logging.Field) error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)

	wrapped := WrapError(err, code, msg)

	allFields := append([]logging.Field{
		logging.Error(err),
		logging.String("error_code", string(code)),
		logging.String("location", fmt.Sprintf("%s:%d", file, line)),
	}, fields...)
	logging.GetLogger().Warn(ctx, msg, allFields...)

	return wrapped
}

// WrapDatabaseError 包装数据库错误
// 已经带错误码的 AppError 原样返回，避免业务错误被降级为 DATABASE_ERROR
func WrapDatabaseError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(IError); ok {
		return err
	}
	return WrapWithLog(ctx, err, ErrCodeDatabase,
		fmt.Sprintf("数据库操作失败: %s", operation),
		logging.String("operation", operation),
	)
}
