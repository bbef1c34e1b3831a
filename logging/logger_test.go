package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStdLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLoggerTo(&buf, "[pool]", WarnLevel)

	l.Info(context.Background(), "ignored")
	l.Warn(context.Background(), "号码池已耗尽", String("tenant_id", "t-1"))

	out := buf.String()
	assert.NotContains(t, out, "ignored")
	assert.Contains(t, out, "[WARN] [pool] 号码池已耗尽 tenant_id=t-1")
}

func TestStdLogger_WithFieldsIsImmutable(t *testing.T) {
	var buf bytes.Buffer
	base := NewStdLoggerTo(&buf, "", DebugLevel)
	child := base.WithFields(Component("numbering"))

	base.Debug(context.Background(), "base")
	child.Error(context.Background(), "child", Error(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "component=")
	assert.Contains(t, lines[1], "component=numbering")
	assert.Contains(t, lines[1], "error=boom")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DebugLevel,
		"WARN":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"":        InfoLevel,
		"verbose": InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestGlobalLogger(t *testing.T) {
	original := GetLogger()
	defer SetLogger(original)

	noop := NewNoopLogger()
	SetLogger(noop)
	assert.Same(t, noop, GetLogger())

	SetLogger(nil)
	assert.Same(t, noop, GetLogger(), "nil must not replace the global logger")

	assert.Same(t, noop, OrGlobal(nil, "x"))
	custom := NewStdLogger("custom")
	assert.Same(t, custom, OrGlobal(custom, "x"))
}

func TestZapLogger_FieldsAreForwarded(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := WrapZap(zap.New(core))

	l.WithFields(Component("dispatch")).Warn(context.Background(), "observer failed",
		String("observer", "ReadModel"), Error(errors.New("boom")))

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "observer failed", entries[0].Message)
	assert.Equal(t, "dispatch", ctx["component"])
	assert.Equal(t, "ReadModel", ctx["observer"])
	assert.Equal(t, "boom", ctx["error"])
}
