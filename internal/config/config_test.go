package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("LoadDefaults", func(t *testing.T) {
		v, err := NewViper("")
		require.NoError(t, err)
		cfg, err := Load(v)
		require.NoError(t, err)

		assert.Equal(t, 10*time.Second, cfg.Monitor.PollInterval)
		assert.Equal(t, time.Duration(0), cfg.Monitor.IdleLogTimeout)
		assert.Equal(t, "none", cfg.Monitor.Stash)
		assert.Equal(t, 10000, cfg.Monitor.DumpSize)
		assert.Equal(t, 3, cfg.Monitor.ListRetries)

		assert.Equal(t, 10*time.Second, cfg.Submit.BackoffBase)
		assert.Equal(t, time.Second, cfg.Submit.StartDelay)
		assert.Equal(t, 0, cfg.Submit.MaxJobs)

		assert.Equal(t, []string{"reach", "sparser"}, cfg.Batch.JobDefinitions["run_reach_jobdef"])
		assert.Contains(t, cfg.Batch.Queues, "run_reach_queue")
		assert.Equal(t, 1, cfg.Batch.RetryAttempts)

		assert.Equal(t, []string{"all"}, cfg.Reading.Readers)
		assert.Equal(t, 3000, cfg.Reading.IDsPerJob)
		assert.Equal(t, 20, cfg.Reading.DependencyLimit)
		assert.Equal(t, 60000, cfg.Reading.CombineMemory)
		assert.Equal(t, 1, cfg.Reading.CombineVCPUs)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)
		assert.Equal(t, "batchfan.events", cfg.Events.SubjectPrefix)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "batchfan.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
aws:
  region: us-west-2
storage:
  bucket: reading-bucket
batch:
  queues:
    gpu_queue: [eidos]
  job_definitions:
    eidos_jobdef: [eidos]
monitor:
  poll_interval: 30s
  idle_log_timeout: 15m
  kill_on_stall: true
  stash: s3
submit:
  max_jobs: 50
  stagger: 2s
`), 0o600))

		v, err := NewViper(path)
		require.NoError(t, err)
		cfg, err := Load(v)
		require.NoError(t, err)

		assert.Equal(t, "us-west-2", cfg.AWS.Region)
		assert.Equal(t, "reading-bucket", cfg.Storage.Bucket)
		assert.Equal(t, map[string][]string{"gpu_queue": {"eidos"}}, cfg.Batch.Queues)
		assert.Equal(t, 30*time.Second, cfg.Monitor.PollInterval)
		assert.Equal(t, 15*time.Minute, cfg.Monitor.IdleLogTimeout)
		assert.True(t, cfg.Monitor.KillOnStall)
		assert.Equal(t, "s3", cfg.Monitor.Stash)
		assert.Equal(t, 50, cfg.Submit.MaxJobs)
		assert.Equal(t, 2*time.Second, cfg.Submit.Stagger)
	})

	t.Run("MissingConfigFile", func(t *testing.T) {
		_, err := NewViper(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("BATCHFAN_MONITOR_POLL_INTERVAL", "1m")
		t.Setenv("BATCHFAN_SUBMIT_MAX_JOBS", "7")
		t.Setenv("BATCHFAN_READING_READERS", "reach,isi")
		t.Setenv("BATCHFAN_LOGGING_LEVEL", "debug")

		v, err := NewViper("")
		require.NoError(t, err)
		cfg, err := Load(v)
		require.NoError(t, err)

		assert.Equal(t, time.Minute, cfg.Monitor.PollInterval)
		assert.Equal(t, 7, cfg.Submit.MaxJobs)
		assert.Equal(t, []string{"reach", "isi"}, cfg.Reading.Readers)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		v, err := NewViper("")
		require.NoError(t, err)
		v.Set("monitor.stash", "local")
		v.Set("submit.stagger", "500ms")

		cfg, err := Load(v)
		require.NoError(t, err)
		assert.Equal(t, "local", cfg.Monitor.Stash)
		assert.Equal(t, 500*time.Millisecond, cfg.Submit.Stagger)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"bad stash", "monitor.stash", "ftp"},
		{"zero poll interval", "monitor.poll_interval", "0s"},
		{"negative max jobs", "submit.max_jobs", -1},
		{"bad profile", "logging.profile", "fancy"},
		{"half credentials", "aws.access_key_id", "AKIA"},
		{"zero ids per job", "reading.ids_per_job", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			Bind(v)
			v.Set(tt.key, tt.val)
			_, err := Load(v)
			assert.Error(t, err)
		})
	}
}

func TestRegistryDir(t *testing.T) {
	cfg := &Config{Registry: RegistryConfig{Dir: "/var/lib/batchfan"}}
	dir, err := cfg.RegistryDir()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/batchfan", dir)

	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, err = (&Config{}).RegistryDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".batchfan", "runs"), dir)
}
