package batch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCategory(t *testing.T) {
	tests := []struct {
		status Status
		want   Category
	}{
		{StatusSubmitted, CategoryPreRun},
		{StatusPending, CategoryPreRun},
		{StatusRunnable, CategoryPreRun},
		{StatusStarting, CategoryPreRun},
		{StatusRunning, CategoryRunning},
		{StatusSucceeded, CategorySucceeded},
		{StatusFailed, CategoryFailed},
		{Status("BOGUS"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Category())
		})
	}
}

func TestPreRunStatusesAggregate(t *testing.T) {
	for _, s := range PreRunStatuses {
		assert.Equal(t, CategoryPreRun, s.Category(), s)
		assert.False(t, s.IsTerminal())
	}
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusSucceeded.IsTerminal())
	assert.Len(t, AllStatuses, 7)
}

func TestCounts(t *testing.T) {
	a := Counts{PreRun: 1, Running: 2, Succeeded: 3, Failed: 4}
	b := Counts{PreRun: 10, Running: 20}
	sum := a.Add(b)

	assert.Equal(t, 33, sum.InFlight())
	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, 4, sum.Failed)
}

func TestErrorWrapping(t *testing.T) {
	err := &Error{Op: "SubmitJob", Queue: "q1", Err: ErrThrottled}

	assert.True(t, IsThrottled(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "queue q1")

	wrapped := fmt.Errorf("submit loop: %w", err)
	var be *Error
	assert.True(t, errors.As(wrapped, &be))
	assert.Equal(t, "SubmitJob", be.Op)

	jobErr := &Error{Op: "TerminateJob", JobID: "j-1", Err: ErrNotFound}
	assert.Contains(t, jobErr.Error(), "job j-1")
	assert.True(t, IsNotFound(jobErr))
}

func TestConfigError(t *testing.T) {
	err := fmt.Errorf("monitor: %w", &ConfigError{Field: "LogBase", Message: "required when stashing"})
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "LogBase")
	assert.False(t, IsConfigError(ErrNotFound))
}
