package logging

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger 基于 zap.SugaredLogger 的 Logger 实现
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger 按运行模式构建 zap Logger
//
// mode 为 prod/production 时使用 JSON 编码的生产配置，其余使用开发配置。
func NewZapLogger(mode string, level Level) (*ZapLogger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(level))

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: z.Sugar()}, nil
}

// WrapZap 复用调用方已有的 *zap.Logger
func WrapZap(z *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: z.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func keysAndValues(fields []Field) []any {
	kv := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			kv = append(kv, f.Key, err.Error())
			continue
		}
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}

func (l *ZapLogger) Debug(_ context.Context, msg string, fields ...Field) {
	l.sugar.Debugw(msg, keysAndValues(fields)...)
}

func (l *ZapLogger) Info(_ context.Context, msg string, fields ...Field) {
	l.sugar.Infow(msg, keysAndValues(fields)...)
}

func (l *ZapLogger) Warn(_ context.Context, msg string, fields ...Field) {
	l.sugar.Warnw(msg, keysAndValues(fields)...)
}

func (l *ZapLogger) Error(_ context.Context, msg string, fields ...Field) {
	l.sugar.Errorw(msg, keysAndValues(fields)...)
}

func (l *ZapLogger) WithFields(fields ...Field) Logger {
	return &ZapLogger{sugar: l.sugar.With(keysAndValues(fields)...)}
}

// Sync 刷新缓冲日志
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
