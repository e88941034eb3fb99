// Package metrics exposes Prometheus collectors for submission and
// monitoring activity.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/3leaps/batchfan/pkg/batch"
)

const namespace = "batchfan"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	Registry *prometheus.Registry

	mSubmitted         *prometheus.CounterVec
	mSubmitErrors      *prometheus.CounterVec
	mTerminated        *prometheus.CounterVec
	mStalled           *prometheus.CounterVec
	mObservationErrors *prometheus.CounterVec
	mJobs              *prometheus.GaugeVec
	mBackpressureWaits prometheus.Counter
	mPollCycles        *prometheus.CounterVec
}

// New registers collectors in reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{Registry: reg}

	m.mSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "jobs_submitted_total",
		Help:      "Number of jobs submitted.",
	}, []string{"queue"})
	reg.MustRegister(m.mSubmitted)
	m.mSubmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "submit_errors_total",
		Help:      "Number of rejected job submissions.",
	}, []string{"queue"})
	reg.MustRegister(m.mSubmitErrors)
	m.mBackpressureWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "backpressure_waits_total",
		Help:      "Number of times submission waited for in-flight jobs to drain.",
	})
	reg.MustRegister(m.mBackpressureWaits)
	m.mTerminated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "jobs_terminated_total",
		Help:      "Number of terminate requests sent, by reason.",
	}, []string{"queue", "reason"})
	reg.MustRegister(m.mTerminated)
	m.mStalled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "jobs_stalled_total",
		Help:      "Number of stall detections.",
	}, []string{"queue"})
	reg.MustRegister(m.mStalled)
	m.mObservationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "observation_errors_total",
		Help:      "Number of per-job observation failures.",
	}, []string{"queue"})
	reg.MustRegister(m.mObservationErrors)
	m.mJobs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "jobs",
		Help:      "Jobs seen in the latest poll cycle, by category.",
	}, []string{"queue", "category"})
	reg.MustRegister(m.mJobs)
	m.mPollCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "poll_cycles_total",
		Help:      "Number of completed poll cycles.",
	}, []string{"queue"})
	reg.MustRegister(m.mPollCycles)

	return m
}

func (m *Metrics) Submitted(queue string) {
	if m != nil {
		m.mSubmitted.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) SubmitError(queue string) {
	if m != nil {
		m.mSubmitErrors.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) BackpressureWait() {
	if m != nil {
		m.mBackpressureWaits.Inc()
	}
}

// Terminated counts a terminate request; reason is "stall" or "kill_all".
func (m *Metrics) Terminated(queue, reason string) {
	if m != nil {
		m.mTerminated.WithLabelValues(queue, reason).Inc()
	}
}

func (m *Metrics) Stalled(queue string) {
	if m != nil {
		m.mStalled.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) ObservationError(queue string) {
	if m != nil {
		m.mObservationErrors.WithLabelValues(queue).Inc()
	}
}

// Observe records the counts of one poll cycle.
func (m *Metrics) Observe(queue string, c batch.Counts) {
	if m == nil {
		return
	}
	m.mJobs.WithLabelValues(queue, string(batch.CategoryPreRun)).Set(float64(c.PreRun))
	m.mJobs.WithLabelValues(queue, string(batch.CategoryRunning)).Set(float64(c.Running))
	m.mJobs.WithLabelValues(queue, string(batch.CategorySucceeded)).Set(float64(c.Succeeded))
	m.mJobs.WithLabelValues(queue, string(batch.CategoryFailed)).Set(float64(c.Failed))
	m.mPollCycles.WithLabelValues(queue).Inc()
}
