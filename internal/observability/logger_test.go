package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		profile string
		wantErr bool
	}{
		{"structured info", "info", "structured", false},
		{"console debug", "debug", "console", false},
		{"default profile", "warn", "", false},
		{"upper case", "INFO", "STRUCTURED", false},
		{"bad level", "loud", "structured", true},
		{"bad profile", "info", "fancy", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger("batchfan", tt.level, tt.profile)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNewLogger_Level(t *testing.T) {
	logger, err := NewLogger("", "warn", "console")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("test", true)
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))

	InitCLILogger("test", false)
	assert.False(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
}

func TestConfigureCLILogger_Invalid(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	require.Error(t, ConfigureCLILogger("test", "nope", "console"))
	assert.Equal(t, orig, CLILogger)
}

func TestInitRegistry(t *testing.T) {
	orig := Registry
	defer func() { Registry = orig }()

	reg := InitRegistry()
	assert.Same(t, reg, Registry)
	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}
