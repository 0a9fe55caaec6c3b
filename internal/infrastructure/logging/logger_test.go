package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		enabled zapcore.Level
		wantErr bool
	}{
		{name: "default", cfg: DefaultConfig(), enabled: zapcore.InfoLevel},
		{name: "development", cfg: DevelopmentConfig(), enabled: zapcore.DebugLevel},
		{name: "cli warn", cfg: CLIConfig("warn"), enabled: zapcore.WarnLevel},
		{name: "empty level", cfg: Config{}, enabled: zapcore.InfoLevel},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.enabled-1))
		})
	}
}

func TestFallbacks(t *testing.T) {
	nop := NewNop()
	assert.False(t, nop.Core().Enabled(zapcore.ErrorLevel))
	assert.NotNil(t, nop.Component("session"))
}
