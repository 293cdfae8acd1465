package logging_test

import (
	"testing"

	"github.com/plus3/bitwise/internal/config"
	"github.com/plus3/bitwise/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	cases := []struct {
		cfg  config.LoggingConfig
		want zapcore.Level
	}{
		{config.LoggingConfig{Level: "debug", Format: "console"}, zapcore.DebugLevel},
		{config.LoggingConfig{Level: "warn", Format: "json"}, zapcore.WarnLevel},
		{config.LoggingConfig{Level: "loud"}, zapcore.InfoLevel},
	}
	for _, tc := range cases {
		log, err := logging.New(tc.cfg)
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(tc.want))
		assert.False(t, log.Core().Enabled(tc.want-1))
	}
}
