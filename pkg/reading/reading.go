// Package reading specializes the dispatcher for bulk literature reading:
// an id manifest is uploaded once, split into index ranges and read by one
// job per range per eligible job definition.
package reading

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const (
	// Class roots the storage prefix of every reading run.
	Class = "reading"

	// Purpose is attached to every reading job as the "purpose" tag.
	Purpose = "pmid_reading"

	// InputName is the object name of the uploaded id manifest under the
	// run's storage prefix.
	InputName = "pmids"

	DefaultQueue           = "run_reach_queue"
	DefaultCombineJobDef   = "run_reach_jobdef"
	DefaultDependencyLimit = 20
	DefaultCombineMemory   = 60000
	DefaultCombineVCPUs    = 1
	DefaultIDsPerJob       = 3000
)

// KnownReaders lists every reader a job can run, in canonical order.
var KnownReaders = []string{"reach", "sparser", "isi", "trips", "eidos", "mti"}

// DefaultReadCommand is the read command template. Placeholders are
// expanded per job by Expand.
var DefaultReadCommand = []string{
	"python", "-m", "indra_reading.scripts.pmid_reading.read_pmids_aws",
	"{job_base}", "/tmp", "16", "{start}", "{end}",
}

// DefaultCombineCommand is the combine command template.
var DefaultCombineCommand = []string{
	"python", "-m", "indra_reading.scripts.assemble_reading_stmts_aws", "{job_base}",
}

// DefaultDefinitions returns the job definitions and the readers each runs.
func DefaultDefinitions() map[string][]string {
	return map[string][]string{
		"run_reach_jobdef":          {"reach", "sparser"},
		"run_db_reading_isi_jobdef": {"isi"},
	}
}

// DefaultQueues returns the job queues and the readers each carries.
func DefaultQueues() map[string][]string {
	return map[string][]string{
		DefaultQueue: {"reach", "sparser", "isi"},
	}
}

// ConfigError reports an invalid reading configuration.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "reading config: " + e.Field + ": " + e.Message
}

// ResolveReaders normalizes a reader selection. "all" selects every known
// reader; names are lowercased and deduplicated in selection order.
func ResolveReaders(names []string) ([]string, error) {
	var out []string
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if n == "all" {
			return slices.Clone(KnownReaders), nil
		}
		if !slices.Contains(KnownReaders, n) {
			return nil, &ConfigError{Field: "readers", Message: fmt.Sprintf("unknown reader %q (known: %s, all)", n, strings.Join(KnownReaders, ", "))}
		}
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, &ConfigError{Field: "readers", Message: "at least one reader must be selected"}
	}
	return out, nil
}

// Vars are the values substituted into a command template.
type Vars struct {
	JobBase string
	JobName string
	Start   int
	End     int
}

// Expand substitutes {job_base}, {job_name}, {start} and {end} in every
// argument of template.
func Expand(template []string, v Vars) []string {
	r := strings.NewReplacer(
		"{job_base}", v.JobBase,
		"{job_name}", v.JobName,
		"{start}", strconv.Itoa(v.Start),
		"{end}", strconv.Itoa(v.End),
	)
	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = r.Replace(arg)
	}
	return out
}
