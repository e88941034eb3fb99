package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// checkTimeout bounds each checker.
const checkTimeout = 2 * time.Second

// Checker reports the health of one dependency.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a healthy or degraded response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthManager runs the registered checkers.
type HealthManager struct {
	version string

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewHealthManager creates a manager reporting version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{version: version, checkers: make(map[string]Checker)}
}

// RegisterChecker adds or replaces a named checker.
func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checkers := make([]Checker, len(names))
	for i, name := range names {
		checkers[i] = m.checkers[name]
	}
	m.mu.RUnlock()

	results := make(map[string]string, len(names))
	for i, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.CheckHealth(cctx)
		switch {
		case err == nil:
			results[names[i]] = "healthy"
		case cctx.Err() == context.DeadlineExceeded:
			results[names[i]] = "timeout"
		default:
			results[names[i]] = "unhealthy"
		}
		cancel()
	}
	return results
}

func (m *HealthManager) determineOverallStatus(results map[string]string) string {
	status := "healthy"
	for _, r := range results {
		switch r {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}

func (m *HealthManager) respond(w http.ResponseWriter, r *http.Request, probe string, withChecks bool) {
	var results map[string]string
	if withChecks {
		results = m.runChecks(r.Context())
	}
	status := m.determineOverallStatus(results)
	if status == "unhealthy" {
		checks := make(map[string]any, len(results))
		for k, v := range results {
			checks[k] = v
		}
		respondWithError(w, r, &StatusError{
			Status:  http.StatusServiceUnavailable,
			Code:    "SERVICE_UNAVAILABLE",
			Message: probe + " check failed",
			Details: map[string]any{"probe": probe, "checks": checks},
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    status,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    results,
	})
}

// HealthHandler runs every checker.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	m.respond(w, r, "health", true)
}

// LivenessHandler reports the process is up without running checkers.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	m.respond(w, r, "liveness", false)
}

// ReadinessHandler runs every checker.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.respond(w, r, "readiness", true)
}

var globalHealthManager *HealthManager

// InitHealthManager installs the process-wide manager.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, or nil.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func notInitialized(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, &StatusError{Status: http.StatusServiceUnavailable, Code: "SERVICE_UNAVAILABLE", Message: "health manager not initialized"})
}

// HealthHandler serves the process-wide manager's health check.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if m := globalHealthManager; m != nil {
		m.HealthHandler(w, r)
		return
	}
	notInitialized(w, r)
}

// LivenessHandler serves the process-wide manager's liveness check.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if m := globalHealthManager; m != nil {
		m.LivenessHandler(w, r)
		return
	}
	notInitialized(w, r)
}

// ReadinessHandler serves the process-wide manager's readiness check.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if m := globalHealthManager; m != nil {
		m.ReadinessHandler(w, r)
		return
	}
	notInitialized(w, r)
}
