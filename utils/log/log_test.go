package log

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetGlobalLoggerRoutesPackageFuncs(t *testing.T) {
	require := require.New(t)

	core, logs := observer.New(zapcore.InfoLevel)
	prev := Default()
	defer func() { _default = prev }()
	SetGlobalLogger(zap.New(core).Sugar())

	Infof("hello %s", "world")
	With("k", "v").Info("tagged")

	entries := logs.All()
	require.Len(entries, 2)
	require.Equal("hello world", entries[0].Message)
	require.Equal("tagged", entries[1].Message)
	require.Equal("v", entries[1].ContextMap()["k"])
}

func TestNewDisabled(t *testing.T) {
	l, err := New(Config{Disable: true}, nil)
	require.NoError(t, err)
	require.NotNil(t, l)
}
