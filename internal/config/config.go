// Package config loads batchfan configuration from defaults, an optional
// YAML file, BATCHFAN_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/batchfan/pkg/awsconf"
	"github.com/3leaps/batchfan/pkg/reading"
	"github.com/3leaps/batchfan/pkg/stash"
)

// EnvPrefix prefixes every environment override, e.g. BATCHFAN_AWS_REGION.
const EnvPrefix = "BATCHFAN"

// Config is the full application configuration.
type Config struct {
	AWS         awsconf.Config    `mapstructure:"aws"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Reading     ReadingConfig     `mapstructure:"reading"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Submit      SubmitConfig      `mapstructure:"submit"`
	Events      EventsConfig      `mapstructure:"events"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Environment EnvironmentConfig `mapstructure:"environment"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Registry    RegistryConfig    `mapstructure:"registry"`
}

// StorageConfig locates run inputs and stashed logs.
type StorageConfig struct {
	Bucket         string `mapstructure:"bucket"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	PartSize       int64  `mapstructure:"part_size"`
}

// BatchConfig describes the remote batch service layout.
type BatchConfig struct {
	// Queues maps each job queue to the worker types it carries.
	Queues map[string][]string `mapstructure:"queues"`

	// JobDefinitions maps each job definition to the worker types it runs.
	JobDefinitions map[string][]string `mapstructure:"job_definitions"`

	RetryAttempts int           `mapstructure:"retry_attempts"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Project       string        `mapstructure:"project"`
	LogGroup      string        `mapstructure:"log_group"`
}

// ReadingConfig configures the reading workload.
type ReadingConfig struct {
	Readers              []string `mapstructure:"readers"`
	IDsPerJob            int      `mapstructure:"ids_per_job"`
	ReadCommand          []string `mapstructure:"read_command"`
	CombineCommand       []string `mapstructure:"combine_command"`
	CombineQueue         string   `mapstructure:"combine_queue"`
	CombineJobDefinition string   `mapstructure:"combine_job_definition"`
	DependencyLimit      int      `mapstructure:"dependency_limit"`
	CombineMemory        int      `mapstructure:"combine_memory"`
	CombineVCPUs         int      `mapstructure:"combine_vcpus"`
}

// MonitorConfig configures queue watching.
type MonitorConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	IdleLogTimeout time.Duration `mapstructure:"idle_log_timeout"`
	KillOnStall    bool          `mapstructure:"kill_on_stall"`
	Stash          string        `mapstructure:"stash"`
	LogBase        string        `mapstructure:"log_base"`
	DumpSize       int           `mapstructure:"dump_size"`
	ListRetries    int           `mapstructure:"list_retries"`
	TagInstances   bool          `mapstructure:"tag_instances"`
}

// SubmitConfig configures submission pacing.
type SubmitConfig struct {
	Stagger     time.Duration `mapstructure:"stagger"`
	MaxJobs     int           `mapstructure:"max_jobs"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	StartDelay  time.Duration `mapstructure:"start_delay"`
}

// EventsConfig enables run event publishing.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MetricsConfig enables the /metrics and /health listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// EnvironmentConfig selects the container environment passed to jobs.
type EnvironmentConfig struct {
	EnvFile     string   `mapstructure:"env_file"`
	PassThrough []string `mapstructure:"pass_through"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// RegistryConfig locates the local run registry.
type RegistryConfig struct {
	Dir string `mapstructure:"dir"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.force_path_style", false)
	v.SetDefault("storage.part_size", 0)

	v.SetDefault("batch.retry_attempts", 1)
	v.SetDefault("batch.timeout", "0s")
	v.SetDefault("batch.project", "")
	v.SetDefault("batch.log_group", "/aws/batch/job")

	v.SetDefault("reading.readers", []string{"all"})
	v.SetDefault("reading.ids_per_job", reading.DefaultIDsPerJob)
	v.SetDefault("reading.read_command", reading.DefaultReadCommand)
	v.SetDefault("reading.combine_command", reading.DefaultCombineCommand)
	v.SetDefault("reading.combine_queue", reading.DefaultQueue)
	v.SetDefault("reading.combine_job_definition", reading.DefaultCombineJobDef)
	v.SetDefault("reading.dependency_limit", reading.DefaultDependencyLimit)
	v.SetDefault("reading.combine_memory", reading.DefaultCombineMemory)
	v.SetDefault("reading.combine_vcpus", reading.DefaultCombineVCPUs)

	v.SetDefault("monitor.poll_interval", "10s")
	v.SetDefault("monitor.idle_log_timeout", "0s")
	v.SetDefault("monitor.kill_on_stall", false)
	v.SetDefault("monitor.stash", "none")
	v.SetDefault("monitor.log_base", "")
	v.SetDefault("monitor.dump_size", 10000)
	v.SetDefault("monitor.list_retries", 3)
	v.SetDefault("monitor.tag_instances", false)

	v.SetDefault("submit.stagger", "0s")
	v.SetDefault("submit.max_jobs", 0)
	v.SetDefault("submit.backoff_base", "10s")
	v.SetDefault("submit.start_delay", "1s")

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "batchfan.events")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("environment.env_file", "")
	v.SetDefault("environment.pass_through", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("registry.dir", "")
}

// NewViper returns a viper instance with defaults and environment binding.
// configFile, when set, must exist and is read immediately.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	Bind(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

// Bind installs defaults and environment overrides on v.
func Bind(v *viper.Viper) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Map defaults would merge key by key with configured maps, so they are
	// applied only when nothing is configured.
	if len(cfg.Batch.Queues) == 0 {
		cfg.Batch.Queues = reading.DefaultQueues()
	}
	if len(cfg.Batch.JobDefinitions) == 0 {
		cfg.Batch.JobDefinitions = reading.DefaultDefinitions()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if err := c.AWS.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := stash.ParseMethod(c.Monitor.Stash); err != nil {
		errs = append(errs, err)
	}
	if c.Monitor.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("monitor.poll_interval must be positive"))
	}
	if c.Monitor.IdleLogTimeout < 0 {
		errs = append(errs, fmt.Errorf("monitor.idle_log_timeout must not be negative"))
	}
	if c.Submit.MaxJobs < 0 {
		errs = append(errs, fmt.Errorf("submit.max_jobs must not be negative"))
	}
	if c.Reading.IDsPerJob <= 0 {
		errs = append(errs, fmt.Errorf("reading.ids_per_job must be positive"))
	}
	switch strings.ToLower(c.Logging.Profile) {
	case "structured", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.profile must be structured or console, got %q", c.Logging.Profile))
	}
	return errors.Join(errs...)
}

// RegistryDir returns the run registry directory, defaulting to
// ~/.batchfan/runs.
func (c *Config) RegistryDir() (string, error) {
	if c.Registry.Dir != "" {
		return c.Registry.Dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".batchfan", "runs"), nil
}
