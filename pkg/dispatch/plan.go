package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Chunk is a contiguous [Start, End) range of input items.
type Chunk struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Len returns the number of items in the chunk.
func (c Chunk) Len() int {
	return c.End - c.Start
}

// Chunks splits [start, end) into consecutive ranges of at most size items.
// The ranges cover the interval exactly; only the last may be short.
func Chunks(start, end, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, &ConfigError{Field: "ids_per_job", Message: fmt.Sprintf("chunk size must be positive, got %d", size)}
	}
	if start < 0 {
		return nil, &ConfigError{Field: "start", Message: fmt.Sprintf("start index must not be negative, got %d", start)}
	}
	var out []Chunk
	for s := start; s < end; s += size {
		out = append(out, Chunk{Start: s, End: min(s+size, end)})
	}
	return out, nil
}

// Workload supplies the domain-specific parts of a run.
type Workload interface {
	// Purpose names the kind of work, attached to every job as a tag.
	Purpose() string

	// Decompose splits the run's input into chunks, one job per chunk per
	// eligible (definition, queue) pair.
	Decompose(ctx context.Context) ([]Chunk, error)

	// BuildCommand returns the container command for one job.
	BuildCommand(jobName string, chunk Chunk, workers []string) []string

	// ExtraFlags returns flags appended to every command.
	ExtraFlags() []string
}

// PlannedJob is one job the dispatcher will submit.
type PlannedJob struct {
	Name       string   `json:"name" yaml:"name"`
	Queue      string   `json:"queue" yaml:"queue"`
	Definition string   `json:"definition" yaml:"definition"`
	Workers    []string `json:"workers" yaml:"workers"`
	Chunk      Chunk    `json:"chunk" yaml:"chunk"`
	Command    []string `json:"command" yaml:"command"`
}

// eligible returns the workers of selection (in selection order) that
// appear in both a and b.
func eligible(selection, a, b []string) []string {
	var out []string
	for _, w := range selection {
		if slices.Contains(a, w) && slices.Contains(b, w) && !slices.Contains(out, w) {
			out = append(out, w)
		}
	}
	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JobName returns the name of the job for chunk and workers.
func JobName(jobBase string, chunk Chunk, workers []string) string {
	name := fmt.Sprintf("%s_%d_%d", jobBase, chunk.Start, chunk.End)
	if len(workers) > 0 {
		name += "_" + strings.Join(workers, "_")
	}
	return name
}

// Plan returns the jobs for one chunk: one per (definition, queue) pair
// whose worker sets share a selected worker, in definition then queue
// order.
func (d *Dispatcher) Plan(chunk Chunk) []PlannedJob {
	var out []PlannedJob
	for _, def := range sortedKeys(d.cfg.Definitions) {
		for _, queue := range sortedKeys(d.cfg.Queues) {
			workers := eligible(d.cfg.Workers, d.cfg.Definitions[def], d.cfg.Queues[queue])
			if len(workers) == 0 {
				continue
			}
			name := JobName(d.jobBase, chunk, workers)
			cmd := d.workload.BuildCommand(name, chunk, workers)
			cmd = append(cmd, d.workload.ExtraFlags()...)
			out = append(out, PlannedJob{
				Name:       name,
				Queue:      queue,
				Definition: def,
				Workers:    workers,
				Chunk:      chunk,
				Command:    cmd,
			})
		}
	}
	return out
}

// PlanAll decomposes the input and plans every job without submitting.
func (d *Dispatcher) PlanAll(ctx context.Context) ([]PlannedJob, error) {
	chunks, err := d.workload.Decompose(ctx)
	if err != nil {
		return nil, err
	}
	var out []PlannedJob
	for _, c := range chunks {
		out = append(out, d.Plan(c)...)
	}
	return out, nil
}
