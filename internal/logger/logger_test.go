package logger

import (
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, slogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, slogLevel("warning"))
	assert.Equal(t, slog.LevelError, slogLevel("error"))
	assert.Equal(t, slog.LevelInfo, slogLevel("nonsense"))
}

func TestConfigureSetsZerologLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	Configure("warn")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	Configure("bogus")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
