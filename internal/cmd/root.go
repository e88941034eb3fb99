// Package cmd implements the batchfan command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/3leaps/batchfan/internal/config"
	"github.com/3leaps/batchfan/internal/observability"
	"github.com/3leaps/batchfan/internal/server/handlers"
)

const serviceName = "batchfan"

type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = buildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo records build information for the version command and
// /version.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersion(handlers.VersionInfo{Version: version, Commit: commit, BuildDate: buildDate})
}

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "batchfan",
	Short: "Fan out work to AWS Batch and watch it to completion",
	Long: `batchfan splits a workload into AWS Batch jobs, submits them under a rate
limit and an in-flight cap, follows their CloudWatch logs, terminates jobs
whose logs stall, stashes logs to S3 or local disk, and reports which jobs
failed or succeeded.

Results are written to stdout as JSONL; logs go to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	setDefaults()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (YAML)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-profile", "structured", "Log format: structured or console")
	pf.String("region", "", "AWS region")
	pf.String("profile", "", "AWS shared config profile")
	pf.String("endpoint", "", "Custom AWS endpoint URL (moto, LocalStack)")
	pf.String("bucket", "", "S3 bucket for run inputs and stashed logs")

	_ = viper.BindPFlag("logging.level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("logging.profile", pf.Lookup("log-profile"))
	_ = viper.BindPFlag("aws.region", pf.Lookup("region"))
	_ = viper.BindPFlag("aws.profile", pf.Lookup("profile"))
	_ = viper.BindPFlag("aws.endpoint", pf.Lookup("endpoint"))
	_ = viper.BindPFlag("storage.bucket", pf.Lookup("bucket"))
}

func setDefaults() {
	config.Bind(viper.GetViper())
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return exitError(foundry.ExitFileNotFound, "Failed to read config", err)
		}
	}
	if err := observability.ConfigureCLILogger(serviceName, viper.GetString("logging.level"), viper.GetString("logging.profile")); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging config", err)
	}
	return nil
}

// loadConfig decodes the merged configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return cfg, nil
}

// Execute runs the root command and exits with the command's exit code.
// Cancelling ctx aborts a run in progress, killing its submitted jobs.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitCode(err))
	}
}

// ExitCodeError carries a process exit code.
type ExitCodeError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitCodeError{Code: code, Message: message, Err: err}
}

// ExitCode returns the exit code carried by err, or 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitCodeError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}
