package cmd

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/batchfan/internal/config"
	"github.com/3leaps/batchfan/pkg/dispatch"
	"github.com/3leaps/batchfan/pkg/output"
	"github.com/3leaps/batchfan/pkg/reading"
	"github.com/3leaps/batchfan/pkg/runregistry"
)

var combineCmd = &cobra.Command{
	Use:   "combine <basename>",
	Short: "Submit the job that combines a reading run's outputs",
	Long: `Submit the combine job for a reading run.

When the latest recorded run for the basename is still in progress, the
combine job depends on its reading jobs and starts once they finish. A run
with more jobs than the dependency limit is refused: wait for it to finish
and run combine again.

Example:
  batchfan combine pmids_2024
  batchfan combine pmids_2024 --group batch2 --readers reach`,
	Args: cobra.ExactArgs(1),
	RunE: runCombine,
}

var combineGroup string

func init() {
	rootCmd.AddCommand(combineCmd)

	f := combineCmd.Flags()
	f.StringVarP(&combineGroup, "group", "g", "", "Group name of the reading run")
	f.StringSlice("readers", nil, "Readers whose outputs to combine, or 'all'")
	f.String("project", "", "Project tag for the job")
	f.String("env-file", "", "Dotenv file with the job environment")
}

func runCombine(cmd *cobra.Command, args []string) error {
	bindRunFlags(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return executeCombine(cmd.Context(), cfg, args[0], combineGroup, cmd.OutOrStdout())
}

func executeCombine(ctx context.Context, cfg *config.Config, basename, group string, stdout io.Writer) error {
	readers, err := reading.ResolveReaders(cfg.Reading.Readers)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid readers", err)
	}
	env, err := dispatch.LoadEnvironment(cfg.Environment.EnvFile, cfg.Environment.PassThrough)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Failed to load job environment", err)
	}

	runID := runregistry.NewRunID()
	rt, err := newRuntime(ctx, cfg, runID, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	storagePrefix, jobBase := dispatch.Prefixes(reading.Class, basename, group)
	deps, err := combineDependencies(rt.runs, jobBase)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Failed to read run registry", err)
	}
	rt.logger.Info("Submitting combine job",
		zap.String("job_base", jobBase),
		zap.Int("dependencies", len(deps)))

	writer := output.NewJSONLWriter(stdout, runID)
	defer func() { _ = writer.Close() }()

	job, err := reading.Combine(ctx, rt.client, combineConfig(cfg, jobBase, readers, env, rt.logger), deps)
	if err != nil {
		_ = writer.WriteError(ctx, errorRecord(err))
		var dle *reading.DependencyLimitError
		if errors.As(err, &dle) {
			return exitError(foundry.ExitInvalidArgument, "Too many dependencies", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Combine submission failed", err)
	}

	now := time.Now().UTC()
	rec := &runregistry.RunRecord{
		RunID:         runID,
		Kind:          runregistry.RunKindCombine,
		State:         runregistry.RunStateSucceeded,
		Basename:      basename,
		Group:         group,
		JobBase:       jobBase,
		StoragePrefix: storagePrefix,
		Readers:       readers,
		Project:       cfg.Batch.Project,
		CombineJobID:  job.ID,
		CreatedAt:     now,
		StartedAt:     &now,
		EndedAt:       &now,
	}
	if err := rt.runs.Write(rec); err != nil {
		rt.logger.Warn("Failed to write run record", zap.Error(err))
	}

	_ = writer.WriteJob(ctx, &output.JobRecord{JobID: job.ID, JobName: job.Name, Queue: job.Queue, Status: "SUBMITTED"})
	_ = writer.WriteSummary(ctx, &output.SummaryRecord{
		JobBase:      jobBase,
		Submitted:    1,
		Queues:       []string{job.Queue},
		CombineJobID: job.ID,
	})
	return nil
}

// combineDependencies returns the job ids the combine job must wait for:
// those of the latest run for jobBase while it has not ended.
func combineDependencies(runs *runregistry.Store, jobBase string) ([]string, error) {
	rec, err := runs.Latest(jobBase)
	if errors.Is(err, runregistry.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		return nil, nil
	}
	return rec.JobIDs(), nil
}
