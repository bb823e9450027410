package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLoggerFrom(zap.New(core))

	l.Warn("payment rejected", map[string]any{
		"code":  "PRICE_MISMATCH",
		"error": errors.New("boom"),
		"value": uint64(100),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "payment rejected", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)

	ctx := entries[0].ContextMap()
	assert.Equal(t, "PRICE_MISMATCH", ctx["code"])
	assert.Equal(t, "boom", ctx["error"])
	assert.Equal(t, uint64(100), ctx["value"])
}

func TestNewZapLogger(t *testing.T) {
	l, err := NewZapLogger("debug", "gas-station")
	require.NoError(t, err)
	l.Debug("hello", nil)
}
