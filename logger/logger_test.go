package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel(DebugLevel))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(WarnLevel))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel(ErrorLevel))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestSetLevel(t *testing.T) {
	defer SetLevel(InfoLevel)

	SetLevel(WarnLevel)
	assert.Equal(t, "warn", Level())
	SetLevel(DebugLevel)
	assert.Equal(t, "debug", Level())
}

func TestHelpersAreSafeBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		Info("not initialised", PlaylistID("p1"), UserID("u1"))
		Sync()
	})
}
