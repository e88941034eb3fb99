package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/batchfan/internal/config"
	"github.com/3leaps/batchfan/pkg/dispatch"
	"github.com/3leaps/batchfan/pkg/monitor"
	"github.com/3leaps/batchfan/pkg/output"
	"github.com/3leaps/batchfan/pkg/runregistry"
)

var watchCmd = &cobra.Command{
	Use:   "watch <queue>",
	Short: "Watch a queue until its jobs finish",
	Long: `Watch the jobs on a queue whose names start with a prefix until none of
them is pending or running, following their logs and stashing or killing
stalled jobs as configured.

Watching every job on the queue needs --all. With --wait-for-first-job the
watch keeps polling until a matching job has been seen, so it can be started
before the jobs are submitted.

Example:
  batchfan watch run_reach_queue --job-base pmids_2024
  batchfan watch run_reach_queue --all --idle-log-timeout 1h --kill-on-stall
  batchfan watch run_reach_queue --job-base pmids_2025 --wait-for-first-job`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchJobBase      string
	watchAll          bool
	watchWaitFirstJob bool
)

// watchOptions selects the jobs a watch follows.
type watchOptions struct {
	Queue           string
	JobBase         string
	All             bool
	WaitForFirstJob bool
}

func init() {
	rootCmd.AddCommand(watchCmd)

	f := watchCmd.Flags()
	f.StringVar(&watchJobBase, "job-base", "", "Only watch jobs whose names start with this prefix")
	f.BoolVar(&watchAll, "all", false, "Watch every job on the queue")
	f.BoolVar(&watchWaitFirstJob, "wait-for-first-job", false, "Keep watching until a matching job has been seen")
	f.Duration("poll-interval", 0, "Time between queue polls")
	f.Duration("idle-log-timeout", 0, "Treat a running job as stalled after this long without log output")
	f.Bool("kill-on-stall", false, "Terminate stalled jobs")
	f.String("stash", "", "Stash job logs: none, local or s3")
	f.String("log-base", "", "Prefix for stashed logs")
	f.Bool("tag-instances", false, "Tag the queue's container hosts with the project")
	f.String("project", "", "Project tag for instances")
	f.String("metrics-addr", "", "Serve /metrics and /health on this address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	bindRunFlags(cmd)
	if f := cmd.Flags().Lookup("log-base"); f != nil {
		_ = viper.BindPFlag("monitor.log_base", f)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return executeWatch(cmd.Context(), cfg, watchOptions{
		Queue:           args[0],
		JobBase:         watchJobBase,
		All:             watchAll,
		WaitForFirstJob: watchWaitFirstJob,
	}, cmd.OutOrStdout())
}

func executeWatch(ctx context.Context, cfg *config.Config, opts watchOptions, stdout io.Writer) error {
	queue, jobBase := opts.Queue, opts.JobBase
	if jobBase == "" && !opts.All {
		return exitError(foundry.ExitInvalidArgument, "Nothing to watch",
			fmt.Errorf("set --job-base, or --all to watch every job on %s", queue))
	}

	runID := runregistry.NewRunID()
	rt, err := newRuntime(ctx, cfg, runID, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	logBase := cfg.Monitor.LogBase
	if logBase == "" {
		logBase, _ = dispatch.Prefixes("watch", queueLabel(queue, jobBase), "")
	}
	mc := watchConfig(rt.monitorTemplate(logBase), opts)

	tagger, clusters, err := rt.clusters(ctx, []string{queue})
	if err != nil {
		return err
	}
	if tagger != nil {
		mc.Tagger, mc.Cluster = tagger, clusters[queue]
	}

	m, err := monitor.New(rt.client, rt.fetcher, rt.sink, mc)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid monitor configuration", err)
	}
	if err := rt.serve(ctx); err != nil {
		return err
	}

	rt.logger.Info("Watching queue",
		zap.String("queue", queue),
		zap.String("job_base", jobBase),
		zap.Bool("wait_for_first_job", opts.WaitForFirstJob),
		zap.Duration("poll_interval", cfg.Monitor.PollInterval))

	start := time.Now()
	res, err := m.Run(ctx)

	writer := output.NewJSONLWriter(stdout, runID)
	defer func() { _ = writer.Close() }()

	if err != nil {
		_ = writer.WriteError(ctx, errorRecord(err))
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Watch cancelled", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Watch failed", err)
	}

	outcome := &dispatch.Outcome{Results: map[string]*monitor.Result{queue: res}}
	reportOutcome(ctx, writer, &runregistry.RunRecord{JobBase: jobBase}, outcome, time.Since(start))
	if res.HasFailures() {
		return fmt.Errorf("%d jobs failed on %s", len(res.Failed), queue)
	}
	return nil
}

// watchConfig narrows a monitor template to an open-world watch.
func watchConfig(mc monitor.Config, opts watchOptions) monitor.Config {
	mc.Queue = opts.Queue
	mc.JobBase = opts.JobBase
	mc.Scope = monitor.Open()
	mc.AllowUnscoped = opts.All
	mc.WaitForFirstJob = opts.WaitForFirstJob
	return mc
}

// queueLabel names the stash prefix of a watch.
func queueLabel(queue, jobBase string) string {
	if jobBase != "" {
		return jobBase
	}
	for i := len(queue) - 1; i >= 0; i-- {
		if queue[i] == '/' {
			return queue[i+1:]
		}
	}
	return queue
}
