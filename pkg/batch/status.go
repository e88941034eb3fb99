package batch

// Status is a remote job state as reported by the batch service.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusPending   Status = "PENDING"
	StatusRunnable  Status = "RUNNABLE"
	StatusStarting  Status = "STARTING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// PreRunStatuses are the remote states aggregated into CategoryPreRun, in
// lifecycle order.
var PreRunStatuses = []Status{StatusSubmitted, StatusPending, StatusRunnable, StatusStarting}

// AllStatuses lists every remote state polled by a monitor.
var AllStatuses = []Status{
	StatusSubmitted, StatusPending, StatusRunnable, StatusStarting,
	StatusRunning, StatusSucceeded, StatusFailed,
}

// Category is the coarse lifecycle classification used by the engine.
type Category string

const (
	CategoryPreRun     Category = "pre-run"
	CategoryRunning    Category = "running"
	CategorySucceeded  Category = "succeeded"
	CategoryFailed     Category = "failed"
	CategoryTerminated Category = "terminated"
	CategoryUnknown    Category = "unknown"
)

// Category maps a remote status to its engine category.
//
// Terminated is never reported by the service itself: it is a local
// classification for jobs this process asked to terminate.
func (s Status) Category() Category {
	switch s {
	case StatusSubmitted, StatusPending, StatusRunnable, StatusStarting:
		return CategoryPreRun
	case StatusRunning:
		return CategoryRunning
	case StatusSucceeded:
		return CategorySucceeded
	case StatusFailed:
		return CategoryFailed
	default:
		return CategoryUnknown
	}
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Counts aggregates job counts by category.
type Counts struct {
	PreRun    int `json:"pre_run"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// InFlight returns the number of jobs not yet terminal.
func (c Counts) InFlight() int {
	return c.PreRun + c.Running
}

// Add returns the element-wise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		PreRun:    c.PreRun + o.PreRun,
		Running:   c.Running + o.Running,
		Succeeded: c.Succeeded + o.Succeeded,
		Failed:    c.Failed + o.Failed,
	}
}
