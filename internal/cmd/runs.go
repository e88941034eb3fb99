package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/3leaps/batchfan/internal/config"
	"github.com/3leaps/batchfan/pkg/runregistry"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs",
	Long: `Inspect the local registry of runs.

Every read, full and combine invocation writes a record with its job base,
storage prefix and submitted jobs. Records of runs whose process died while
in progress are reported in state 'unknown'.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete old records of finished runs",
	RunE:  runRunsGC,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsGCCmd)

	runsListCmd.Flags().Bool("json", false, "Output as JSON")
	runsListCmd.Flags().String("match", "", "Only list runs whose job base matches this glob (e.g. 'pmids_*')")
	runsShowCmd.Flags().Bool("json", false, "Output as JSON")
	runsGCCmd.Flags().Duration("max-age", 7*24*time.Hour, "Delete finished runs that ended longer ago than this")
	runsGCCmd.Flags().Bool("dry-run", false, "Show how many runs would be deleted")
	runsGCCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStore() (*runregistry.Store, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	dir, err := cfg.RegistryDir()
	if err != nil {
		return nil, exitError(foundry.ExitFileNotFound, "Failed to resolve run registry", err)
	}
	return runregistry.NewStore(dir), nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	pattern, _ := cmd.Flags().GetString("match")

	store, err := runStore()
	if err != nil {
		return err
	}
	runs, err := store.List()
	if err != nil {
		return err
	}
	runs, err = filterRuns(runs, pattern)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --match pattern", err)
	}
	return printRuns(cmd.OutOrStdout(), runs, jsonOutput)
}

// filterRuns keeps runs whose job base matches the glob pattern.
func filterRuns(runs []runregistry.RunRecord, pattern string) ([]runregistry.RunRecord, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return runs, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("bad pattern %q", pattern)
	}
	out := runs[:0:0]
	for _, r := range runs {
		ok, err := doublestar.Match(pattern, r.JobBase)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func printRuns(out io.Writer, runs []runregistry.RunRecord, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if runs == nil {
			runs = []runregistry.RunRecord{}
		}
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No runs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "RUN ID\tKIND\tSTATE\tJOB BASE\tJOBS\tFAILED\tSTARTED\tENDED")
	for _, r := range runs {
		failed := "-"
		if r.Counts != nil {
			failed = fmt.Sprint(r.Counts.Failed)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			shortRunID(r.RunID),
			r.Kind,
			r.State,
			r.JobBase,
			len(r.JobIDs()),
			failed,
			formatOptionalTime(r.StartedAt),
			formatOptionalTime(r.EndedAt),
		)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := runStore()
	if err != nil {
		return err
	}
	runID, err := resolveRunID(store, args[0])
	if err != nil {
		return err
	}
	rec, err := store.Get(runID)
	if err != nil {
		return err
	}
	return printRun(cmd.OutOrStdout(), rec, jsonOutput)
}

func printRun(out io.Writer, rec *runregistry.RunRecord, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	_, _ = fmt.Fprintf(out, "run_id=%s\n", rec.RunID)
	_, _ = fmt.Fprintf(out, "kind=%s\n", rec.Kind)
	_, _ = fmt.Fprintf(out, "state=%s\n", rec.State)
	_, _ = fmt.Fprintf(out, "job_base=%s\n", rec.JobBase)
	_, _ = fmt.Fprintf(out, "storage_prefix=%s\n", rec.StoragePrefix)
	if len(rec.Readers) > 0 {
		_, _ = fmt.Fprintf(out, "readers=%s\n", strings.Join(rec.Readers, ","))
	}
	if rec.Project != "" {
		_, _ = fmt.Fprintf(out, "project=%s\n", rec.Project)
	}
	if rec.Counts != nil {
		_, _ = fmt.Fprintf(out, "succeeded=%d\n", rec.Counts.Succeeded)
		_, _ = fmt.Fprintf(out, "failed=%d\n", rec.Counts.Failed)
	}
	if rec.CombineJobID != "" {
		_, _ = fmt.Fprintf(out, "combine_job_id=%s\n", rec.CombineJobID)
	}
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(out, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(out, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	if rec.Error != "" {
		_, _ = fmt.Fprintf(out, "error=%s\n", rec.Error)
	}
	for _, q := range sortedKeys(rec.Jobs) {
		for _, j := range rec.Jobs[q] {
			_, _ = fmt.Fprintf(out, "job=%s\t%s\t%s\n", q, j.ID, j.Name)
		}
	}
	return nil
}

type runsGCResult struct {
	Deleted     int    `json:"deleted"`
	WouldDelete int    `json:"would_delete"`
	DryRun      bool   `json:"dry_run"`
	MaxAge      string `json:"max_age"`
}

func runRunsGC(cmd *cobra.Command, _ []string) error {
	maxAge, _ := cmd.Flags().GetDuration("max-age")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if maxAge <= 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --max-age", fmt.Errorf("--max-age must be > 0"))
	}

	store, err := runStore()
	if err != nil {
		return err
	}
	n, err := gcRuns(store, maxAge, time.Now().UTC(), dryRun)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to delete runs", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		res := runsGCResult{DryRun: dryRun, MaxAge: maxAge.String()}
		if dryRun {
			res.WouldDelete = n
		} else {
			res.Deleted = n
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if dryRun {
		_, _ = fmt.Fprintf(out, "would_delete=%d\n", n)
		return nil
	}
	_, _ = fmt.Fprintf(out, "deleted=%d\n", n)
	return nil
}

// gcRuns deletes records of finished runs that ended before now-maxAge.
func gcRuns(store *runregistry.Store, maxAge time.Duration, now time.Time, dryRun bool) (int, error) {
	runs, err := store.List()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, r := range runs {
		if r.EndedAt == nil || now.Sub(r.EndedAt.UTC()) <= maxAge {
			continue
		}
		if !r.State.Terminal() && r.State != runregistry.RunStateUnknown {
			continue
		}
		if !dryRun {
			if err := os.RemoveAll(store.RunDir(r.RunID)); err != nil {
				return deleted, fmt.Errorf("remove run dir: %w", err)
			}
		}
		deleted++
	}
	return deleted, nil
}

func shortRunID(runID string) string {
	runID = strings.TrimSpace(runID)
	if len(runID) <= 12 {
		return runID
	}
	return runID[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// resolveRunID accepts a full run id or a unique prefix of one.
func resolveRunID(store *runregistry.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", exitError(foundry.ExitInvalidArgument, "Missing run id", fmt.Errorf("run_id is required"))
	}

	if _, err := store.Get(input); err == nil {
		return input, nil
	}

	runs, err := store.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, r := range runs {
		if strings.HasPrefix(r.RunID, input) {
			matches = append(matches, r.RunID)
		}
	}
	if len(matches) == 0 {
		return "", exitError(foundry.ExitFileNotFound, "Run not found", fmt.Errorf("run not found: %s", input))
	}
	if len(matches) > 1 {
		return "", exitError(foundry.ExitInvalidArgument, "Ambiguous run id",
			fmt.Errorf("run id prefix is ambiguous (%d matches); use the full run_id or --json", len(matches)))
	}
	return matches[0], nil
}
