package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "set all values", version: "1.0.0", commit: "abc123", buildDate: "2026-01-15"},
		{name: "set dev version", version: "dev", commit: "HEAD", buildDate: "unknown"},
		{name: "set empty values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer func() {
		viper.Reset()
		setDefaults()
	}()

	setDefaults()

	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "structured", viper.GetString("logging.profile"))
	assert.Equal(t, "none", viper.GetString("monitor.stash"))
	assert.Equal(t, 3000, viper.GetInt("reading.ids_per_job"))
	assert.Equal(t, 20, viper.GetInt("reading.dependency_limit"))
	assert.Equal(t, "10s", viper.GetString("submit.backoff_base"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))

	err := exitError(foundry.ExitInvalidArgument, "Bad input", errors.New("boom"))
	assert.Equal(t, int(foundry.ExitInvalidArgument), ExitCode(err))
	assert.Contains(t, err.Error(), "Bad input: boom")

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), ExitCode(wrapped))
}

func TestExitError_Unwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := exitError(foundry.ExitFileNotFound, "Missing", sentinel)
	assert.ErrorIs(t, err, sentinel)
}

func TestVersionCommand(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()
	versionInfo = buildInfo{Version: "1.2.3", Commit: "abc", BuildDate: "today"}

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	defer versionCmd.SetOut(nil)

	require.NoError(t, versionCmd.RunE(versionCmd, nil))
	assert.Equal(t, "batchfan 1.2.3 (commit abc, built today)\n", out.String())
}
