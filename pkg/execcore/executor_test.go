package execcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skeenode/pkg/models"
	"skeenode/pkg/resources"
)

func newTestExecutor() *Executor {
	mgr := resources.NewManager(models.ResourceLimits{MaxMemoryMB: 4096, MaxConcurrentJobs: 8})
	return New(mgr)
}

func TestAttempt_SucceedsOnZeroExit(t *testing.T) {
	ex := newTestExecutor()
	job := models.JobDefinition{ID: "a", Kind: models.JobKindCommand, Payload: "echo ok"}
	exec := &models.JobExecution{JobID: "a", Status: models.JobStatusPending}

	var events []models.JobEvent
	err := ex.Attempt(context.Background(), job, exec, 1, func(e models.JobEvent) { events = append(events, e) })

	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, exec.Status)
	assert.Equal(t, 0, exec.ExitCode)
	assert.Contains(t, exec.Stdout, "ok")
	require.Len(t, events, 2)
	assert.Equal(t, models.EventStarted, events[0].Kind)
	assert.Equal(t, models.EventCompleted, events[1].Kind)
}

func TestAttempt_FailsOnNonZeroExit(t *testing.T) {
	ex := newTestExecutor()
	job := models.JobDefinition{ID: "a", Kind: models.JobKindCommand, Payload: "exit 3"}
	exec := &models.JobExecution{JobID: "a"}

	err := ex.Attempt(context.Background(), job, exec, 1, func(models.JobEvent) {})

	require.Error(t, err)
	assert.Equal(t, models.JobStatusFailed, exec.Status)
	assert.Equal(t, 3, exec.ExitCode)
}

func TestAttempt_TimesOutAndReportsFailed(t *testing.T) {
	ex := newTestExecutor()
	job := models.JobDefinition{ID: "a", Kind: models.JobKindCommand, Payload: "sleep 5", Timeout: 50 * time.Millisecond}
	exec := &models.JobExecution{JobID: "a"}

	var events []models.JobEvent
	err := ex.Attempt(context.Background(), job, exec, 1, func(e models.JobEvent) { events = append(events, e) })

	require.Error(t, err)
	assert.Equal(t, models.JobStatusFailed, exec.Status)
	assert.Contains(t, exec.Error, "timed out")
}

func TestAttempt_CancelledByParentContext(t *testing.T) {
	ex := newTestExecutor()
	job := models.JobDefinition{ID: "a", Kind: models.JobKindCommand, Payload: "sleep 5"}
	exec := &models.JobExecution{JobID: "a"}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := ex.Attempt(ctx, job, exec, 1, func(models.JobEvent) {})

	require.Error(t, err)
	assert.Equal(t, models.JobStatusCancelled, exec.Status)
}

func TestAttempt_DeniedByAdmissionControl(t *testing.T) {
	mgr := resources.NewManager(models.ResourceLimits{MaxMemoryMB: 100, MaxConcurrentJobs: 8})
	ex := New(mgr)
	require.True(t, mgr.Reserve("hog", models.ResourceLimits{MaxMemoryMB: 100}))

	job := models.JobDefinition{ID: "a", Kind: models.JobKindCommand, Payload: "echo ok", Limits: models.ResourceLimits{MaxMemoryMB: 50}}
	exec := &models.JobExecution{JobID: "a"}

	err := ex.Attempt(context.Background(), job, exec, 1, func(models.JobEvent) {})

	require.Error(t, err)
	var admErr *AdmissionError
	assert.ErrorAs(t, err, &admErr)
}
