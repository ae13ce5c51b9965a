// Package orchestrator implements the in-process DAG dispatch loop: given
// a validated WorkflowDefinition it runs every job exactly once each ready
// job becomes dispatchable, respecting dependencies, concurrency limits,
// retries, and cooperative cancellation.
//
// Grounded on original_source/baselines/CLI-011/src/orchestrator.py's
// JobOrchestrator, whose asyncio.wait(FIRST_COMPLETED, timeout=1.0) loop
// is reimplemented here with goroutines, channels, and select; and on the
// teacher's pkg/scheduler/core.go, whose semaphore-bounded worker pool and
// exponential-backoff retry shape this package's concurrency style.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skeenode/pkg/dagcore"
	"skeenode/pkg/execcore"
	"skeenode/pkg/metrics"
	"skeenode/pkg/models"
	"skeenode/pkg/orchlog"
	"skeenode/pkg/resources"
)

// Scheduler runs workflows to completion. One Scheduler can run multiple
// workflows concurrently; each gets its own ExecutionPlan and dispatch
// loop.
type Scheduler struct {
	executor    *execcore.Executor
	resourceMgr *resources.Manager

	mu    sync.RWMutex
	plans map[string]*runState

	subsMu sync.RWMutex
	subs   []chan models.JobEvent
	history []models.JobEvent
}

// runState is the mutable bookkeeping for one in-flight ExecuteWorkflow
// call, guarded by its own mutex so Status()/JobStatus() never block the
// dispatch loop.
type runState struct {
	mu      sync.Mutex
	plan    *models.ExecutionPlan
	graph   *dagcore.Graph
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Scheduler backed by the given resource ceiling.
func New(globalLimits models.ResourceLimits) *Scheduler {
	mgr := resources.NewManager(globalLimits)
	return &Scheduler{
		executor:    execcore.New(mgr),
		resourceMgr: mgr,
		plans:       make(map[string]*runState),
	}
}

// Subscribe registers a channel that receives every JobEvent published by
// any workflow this Scheduler runs, following the teacher's broadcast
// pattern but copy-on-publish instead of copy-on-subscribe so publish
// never blocks on a slow subscriber for long: the channel is buffered and
// a full channel simply drops the event.
func (s *Scheduler) Subscribe() <-chan models.JobEvent {
	ch := make(chan models.JobEvent, 256)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

// EventHistory returns every event published so far, oldest first. A
// supplemented feature (original_source's orchestrator.py exposes
// get_execution_history for the same purpose).
func (s *Scheduler) EventHistory() []models.JobEvent {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	out := make([]models.JobEvent, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Scheduler) publish(e models.JobEvent) {
	s.subsMu.Lock()
	s.history = append(s.history, e)
	subs := make([]chan models.JobEvent, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// ValidationError is returned by ExecuteWorkflow when the workflow's DAG
// fails structural validation; the workflow never starts.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow failed validation: %v", e.Errors)
}

// ExecuteWorkflow validates, plans, and runs a workflow to completion (or
// until ctx is cancelled), returning the final ExecutionPlan. It blocks
// until every job reaches a terminal status.
func (s *Scheduler) ExecuteWorkflow(ctx context.Context, wf *models.WorkflowDefinition) (*models.ExecutionPlan, error) {
	wf.AssignSequence()
	graph := dagcore.Build(wf.Jobs)
	if ok, errs := graph.Validate(s.resourceMgr.GlobalLimits()); !ok {
		metrics.DAGValidationFailures.Inc()
		return nil, &ValidationError{Errors: errs}
	}

	executionID := uuid.NewString()
	plan := models.NewExecutionPlan(executionID, wf.Jobs, graph.Metadata(), time.Now())
	plan.Status = models.PlanStatusRunning

	runCtx, cancel := context.WithCancel(ctx)
	rs := &runState{plan: plan, graph: graph, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.plans[executionID] = rs
	s.mu.Unlock()

	orchlog.Info("workflow started", zap.String("execution_id", executionID), zap.Int("jobs", len(wf.Jobs)))

	s.dispatch(runCtx, wf, rs)

	close(rs.done)
	metrics.PlansCompleted.WithLabelValues(string(rs.plan.Status)).Inc()
	orchlog.Info("workflow finished", zap.String("execution_id", executionID), zap.String("status", string(rs.plan.Status)))

	return rs.plan, nil
}

// Status returns the current ExecutionPlan for a running or finished
// workflow by execution id.
func (s *Scheduler) Status(executionID string) (*models.ExecutionPlan, bool) {
	s.mu.RLock()
	rs, ok := s.plans[executionID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.plan, true
}

// JobStatus returns one job's current execution record within a plan.
func (s *Scheduler) JobStatus(executionID, jobID string) (*models.JobExecution, bool) {
	plan, ok := s.Status(executionID)
	if !ok {
		return nil, false
	}
	exec, ok := plan.Jobs[jobID]
	return exec, ok
}

// CancelExecution requests cooperative cancellation of a running workflow.
// It is idempotent: cancelling an already-finished or already-cancelled
// workflow is a no-op.
func (s *Scheduler) CancelExecution(executionID string) error {
	s.mu.RLock()
	rs, ok := s.plans[executionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no such execution: %s", executionID)
	}
	rs.cancel()
	return nil
}
