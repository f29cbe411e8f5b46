package shared

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPrinterIndents(t *testing.T) {
	a, b := new(bytes.Buffer), new(bytes.Buffer)
	p, err := NewPrinter("│ ", NewWriteCloser(a), NewWriteCloser(b))
	require.NoError(t, err)

	require.NoError(t, p.Writeln("one\ntwo", 1))
	require.NoError(t, p.Write("three", 0))
	assert.Equal(t, "│ one\n│ two\nthree", a.String())
	assert.Equal(t, a.String(), b.String())
	require.NoError(t, p.Close())

	_, err = NewPrinter("")
	assert.Error(t, err)
	_, err = NewPrinter("", NewWriteCloser(nil))
	assert.Error(t, err)
}

func TestLoggerAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLogger(zap.New(core)).With(zap.String("component", "test"))

	logger.Error("failed", errors.New("boom"))
	logger.Error("failed without error", nil)
	logger.Trace("event", zap.String("type", "response.done"))

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
	assert.Equal(t, "test", entries[0].ContextMap()["component"])
	assert.NotContains(t, entries[1].ContextMap(), "error")
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
}

func TestStatusError(t *testing.T) {
	var err error = &StatusError{Op: "fetching credential", StatusCode: 500, Body: "down"}
	wrapped := errors.Join(errors.New("outer"), err)

	statusErr, ok := AsError[*StatusError](wrapped)
	require.True(t, ok)
	assert.Equal(t, 500, statusErr.StatusCode)
	assert.Equal(t, "fetching credential: unexpected status code: 500, body: down", err.Error())

	_, ok = AsError[*StatusError](errors.New("plain"))
	assert.False(t, ok)
}
