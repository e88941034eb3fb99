package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/3leaps/batchfan/pkg/runregistry"
)

var readCmd = &cobra.Command{
	Use:   "read <basename> <manifest>",
	Short: "Submit reading jobs for an id manifest and watch them",
	Long: `Upload an id manifest, split it into chunks, submit one reading job per
chunk for every eligible job definition and queue, and watch the queues
until every submitted job has finished.

Job names are <basename>[_<group>]_<start>_<end>_<readers>. Inputs and
stashed logs live under reading/<basename>/[<group>/] in the bucket.

Example:
  batchfan read pmids_2024 pmids.txt --bucket my-bucket
  batchfan read pmids_2024 pmids.txt --readers reach,sparser --ids-per-job 1000
  batchfan read pmids_2024 pmids.txt --idle-log-timeout 30m --kill-on-stall --stash s3
  batchfan read pmids_2024 pmids.txt --dry-run`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReading(cmd, args, runregistry.RunKindRead)
	},
}

var fullCmd = &cobra.Command{
	Use:   "full <basename> <manifest>",
	Short: "Run reading jobs, then submit the combine job",
	Long: `Run the reading jobs exactly as 'read' does and, once every reading job has
finished without an aborted run, submit the job that combines their outputs.

Example:
  batchfan full pmids_2024 pmids.txt --bucket my-bucket --project indra`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReading(cmd, args, runregistry.RunKindFull)
	},
}

var (
	readGroup         string
	readStart         int
	readEnd           int
	readForceRead     bool
	readForceFulltext bool
	readDryRun        bool
)

// configFlags maps run flags onto config keys; they are bound when the
// command runs so read and full can share keys.
var configFlags = map[string]string{
	"readers":          "reading.readers",
	"ids-per-job":      "reading.ids_per_job",
	"project":          "batch.project",
	"timeout":          "batch.timeout",
	"stagger":          "submit.stagger",
	"max-jobs":         "submit.max_jobs",
	"poll-interval":    "monitor.poll_interval",
	"idle-log-timeout": "monitor.idle_log_timeout",
	"kill-on-stall":    "monitor.kill_on_stall",
	"stash":            "monitor.stash",
	"tag-instances":    "monitor.tag_instances",
	"env-file":         "environment.env_file",
	"metrics-addr":     "metrics.addr",
}

func init() {
	for _, c := range []*cobra.Command{readCmd, fullCmd} {
		rootCmd.AddCommand(c)
		addRunFlags(c.Flags())
	}
}

func addRunFlags(f *pflag.FlagSet) {
	f.StringVarP(&readGroup, "group", "g", "", "Group name nesting this run under the basename")
	f.IntVar(&readStart, "start", 0, "First manifest line to read (0-based)")
	f.IntVar(&readEnd, "end", 0, "Manifest line to stop before (0 reads to the end)")
	f.BoolVar(&readForceRead, "force-read", false, "Read content even if it was read before")
	f.BoolVar(&readForceFulltext, "force-fulltext", false, "Only read full text content")
	f.BoolVar(&readDryRun, "dry-run", false, "Print the submission plan as YAML without submitting")

	f.StringSlice("readers", nil, "Readers to run, or 'all'")
	f.Int("ids-per-job", 0, "Manifest ids per job")
	f.String("project", "", "Project tag for jobs and instances")
	f.Duration("timeout", 0, "Attempt duration limit per job")
	f.Duration("stagger", 0, "Minimum delay between submissions")
	f.Int("max-jobs", 0, "Maximum pre-run plus running jobs of this run (0 for no cap)")
	f.Duration("poll-interval", 0, "Time between queue polls")
	f.Duration("idle-log-timeout", 0, "Treat a running job as stalled after this long without log output")
	f.Bool("kill-on-stall", false, "Terminate stalled jobs")
	f.String("stash", "", "Stash job logs: none, local or s3")
	f.Bool("tag-instances", false, "Tag the queue's container hosts with the project")
	f.String("env-file", "", "Dotenv file with the job environment")
	f.String("metrics-addr", "", "Serve /metrics and /health on this address")
}

// bindRunFlags binds cmd's config-backed flags to their viper keys.
func bindRunFlags(cmd *cobra.Command) {
	for flag, key := range configFlags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}

func runReading(cmd *cobra.Command, args []string, kind runregistry.RunKind) error {
	bindRunFlags(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return executeReading(cmd.Context(), cfg, readingRun{
		Kind:          kind,
		Basename:      args[0],
		Manifest:      args[1],
		Group:         readGroup,
		Start:         readStart,
		End:           readEnd,
		ForceRead:     readForceRead,
		ForceFulltext: readForceFulltext,
		DryRun:        readDryRun,
	}, cmd.OutOrStdout())
}
