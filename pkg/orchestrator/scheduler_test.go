package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skeenode/pkg/models"
)

func cmdJob(id string, payload string, deps ...string) models.JobDefinition {
	return models.JobDefinition{
		ID:           id,
		Name:         id,
		Kind:         models.JobKindCommand,
		Payload:      payload,
		Dependencies: deps,
		Retry:        models.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1},
	}
}

func newTestScheduler() *Scheduler {
	return New(models.ResourceLimits{MaxMemoryMB: 4096, MaxConcurrentJobs: 8})
}

func TestExecuteWorkflow_LinearChainRunsInOrder(t *testing.T) {
	s := newTestScheduler()
	wf := &models.WorkflowDefinition{Name: "wf", Jobs: []models.JobDefinition{
		cmdJob("a", "echo a"),
		cmdJob("b", "echo b", "a"),
		cmdJob("c", "echo c", "b"),
	}}

	plan, err := s.ExecuteWorkflow(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusComplete, plan.Status)
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, models.JobStatusSuccess, plan.Jobs[id].Status, id)
	}
}

func TestExecuteWorkflow_FailurePropagatesSkipToDependents(t *testing.T) {
	s := newTestScheduler()
	wf := &models.WorkflowDefinition{Name: "wf", Jobs: []models.JobDefinition{
		cmdJob("a", "exit 1"),
		cmdJob("b", "echo b", "a"),
		cmdJob("c", "echo c"),
	}}

	plan, err := s.ExecuteWorkflow(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusFailed, plan.Status)
	assert.Equal(t, models.JobStatusFailed, plan.Jobs["a"].Status)
	assert.Equal(t, models.JobStatusSkipped, plan.Jobs["b"].Status)
	assert.Equal(t, models.JobStatusSuccess, plan.Jobs["c"].Status)
}

func TestExecuteWorkflow_RejectsInvalidDAG(t *testing.T) {
	s := newTestScheduler()
	wf := &models.WorkflowDefinition{Name: "wf", Jobs: []models.JobDefinition{
		cmdJob("a", "echo a", "b"),
		cmdJob("b", "echo b", "a"),
	}}

	_, err := s.ExecuteWorkflow(context.Background(), wf)
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestExecuteWorkflow_RetriesBeforeFailing(t *testing.T) {
	s := newTestScheduler()
	job := cmdJob("a", "exit 1")
	job.Retry = models.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffMultiplier: 2}
	wf := &models.WorkflowDefinition{Name: "wf", Jobs: []models.JobDefinition{job}}

	sub := s.Subscribe()
	plan, err := s.ExecuteWorkflow(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, plan.Jobs["a"].Status)
	assert.Equal(t, 3, plan.Jobs["a"].Attempt)

	retries := 0
	for {
		select {
		case e := <-sub:
			if e.Kind == models.EventRetrying {
				retries++
			}
		default:
			assert.Equal(t, 2, retries)
			return
		}
	}
}

func TestExecuteWorkflow_AdmissionDenialRequeuesInsteadOfFailing(t *testing.T) {
	// Only enough declared memory for one job at a time, but concurrency
	// allows both to be dispatched in the same iteration: one job's
	// Reserve must fail and come back around rather than being marked
	// failed or burning a retry attempt.
	s := New(models.ResourceLimits{MaxMemoryMB: 100, MaxConcurrentJobs: 2})

	job := func(id string) models.JobDefinition {
		return models.JobDefinition{
			ID: id, Name: id, Kind: models.JobKindCommand,
			Payload: "sleep 0.05 && echo done",
			Retry:   models.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1},
			Limits:  models.ResourceLimits{MaxMemoryMB: 100},
		}
	}
	wf := &models.WorkflowDefinition{Name: "wf", Jobs: []models.JobDefinition{job("a"), job("b")}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	plan, err := s.ExecuteWorkflow(ctx, wf)
	require.NoError(t, err)
	assert.Equal(t, models.PlanStatusComplete, plan.Status)
	for _, id := range []string{"a", "b"} {
		assert.Equal(t, models.JobStatusSuccess, plan.Jobs[id].Status, id)
		assert.Equal(t, 1, plan.Jobs[id].Attempt, "admission denial must not consume a retry attempt for %s", id)
	}
}

func TestCancelExecution_StopsRunningWorkflow(t *testing.T) {
	s := newTestScheduler()
	wf := &models.WorkflowDefinition{Name: "wf", Jobs: []models.JobDefinition{
		cmdJob("a", "sleep 5"),
	}}

	executionIDCh := make(chan string, 1)
	go func() {
		sub := s.Subscribe()
		e := <-sub
		executionIDCh <- e.ExecutionID
	}()

	resultCh := make(chan *models.ExecutionPlan, 1)
	go func() {
		plan, _ := s.ExecuteWorkflow(context.Background(), wf)
		resultCh <- plan
	}()

	executionID := <-executionIDCh
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.CancelExecution(executionID))

	select {
	case plan := <-resultCh:
		assert.Equal(t, models.PlanStatusCancel, plan.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("workflow did not stop after cancellation")
	}
}
