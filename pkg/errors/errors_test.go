package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapKeepsCauseAndStack(t *testing.T) {
	inner := New(ErrorTypeFile, "map failed")
	outer := Wrap(inner, ErrorTypeNotFound, "open segment")

	assert.Equal(t, ErrorTypeNotFound, TypeOf(outer))
	assert.True(t, Is(outer, inner))
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.Nil(t, Wrap(nil, ErrorTypeFile, "nothing"))

	plain := fmt.Errorf("context: %w", outer)
	assert.True(t, IsType(plain, ErrorTypeNotFound))
	assert.Equal(t, ErrorType(""), TypeOf(io.EOF))
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "reset")))
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "slow")))
	assert.False(t, IsRetryable(New(ErrorTypeOutOfBounds, "range")))
	assert.False(t, IsRetryable(io.EOF))
}

func TestFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	err := New(ErrorTypeTypeMismatch, "wrong type").
		WithDetail("column", "age").
		WithDetail("actual", "Int32")
	log.Warn("read failed", Fields(err)...)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "type_mismatch", ctx["error_type"])
	assert.Equal(t, "age", ctx["column"])
	assert.Equal(t, "Int32", ctx["actual"])
	assert.Contains(t, ctx["error"], "wrong type")

	assert.Len(t, Fields(io.EOF), 1)
}
