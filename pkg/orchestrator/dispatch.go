package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"skeenode/pkg/execcore"
	"skeenode/pkg/metrics"
	"skeenode/pkg/models"
	"skeenode/pkg/orchlog"
)

// admissionRetryDelay is the brief pause the dispatch loop takes before
// re-offering an admission-denied job, so a resource-starved workflow
// doesn't spin a tight loop of Reserve/deny cycles.
const admissionRetryDelay = 20 * time.Millisecond

// attemptResult is what a running attempt goroutine reports back to the
// dispatch loop when it finishes. admissionDenied distinguishes a refusal
// by the resource manager (the job never ran and remains pending, per
// spec.md §7) from a real ExecutionFailure.
type attemptResult struct {
	jobID           string
	err             error
	admissionDenied bool
}

// dispatch runs the ready-set -> spawn -> harvest loop until every job in
// the plan reaches a terminal status or the context is cancelled.
//
// Mirrors orchestrator.py's loop structure: each iteration computes the
// ready set, starts everything it can under the concurrency ceiling, then
// blocks on whichever in-flight attempt finishes first (here via a
// fan-in channel instead of asyncio.wait(FIRST_COMPLETED)).
func (s *Scheduler) dispatch(ctx context.Context, wf *models.WorkflowDefinition, rs *runState) {
	plan := rs.plan
	graph := rs.graph

	pending := make(map[string]struct{}, len(wf.Jobs))
	for _, j := range wf.Jobs {
		pending[j.ID] = struct{}{}
	}

	running := make(map[string]struct{})
	results := make(chan attemptResult)

	var wg sync.WaitGroup
	defer wg.Wait()

	maxConcurrent := s.resourceMgr.GlobalLimits().MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	for {
		rs.mu.Lock()
		unreachable := plan.Unreachable()
		rs.mu.Unlock()

		blocked := graph.BlockedPending(pending, unreachable)
		if len(blocked) > 0 {
			rs.mu.Lock()
			for _, id := range blocked {
				delete(pending, id)
				plan.Skipped[id] = struct{}{}
				exec := plan.Jobs[id]
				exec.Status = models.JobStatusSkipped
				now := time.Now()
				exec.EndTime = &now
			}
			rs.mu.Unlock()
			for _, id := range blocked {
				s.publish(models.JobEvent{Timestamp: time.Now(), JobID: id, Kind: models.EventSkipped, ExecutionID: plan.ExecutionID})
			}
		}

		if plan.IsComplete() {
			break
		}

		if ctx.Err() != nil {
			s.cancelRemaining(plan, pending, running)
			break
		}

		rs.mu.Lock()
		ready := graph.Ready(plan.Completed, plan.Unreachable(), pending)
		rs.mu.Unlock()

		for _, jobID := range ready {
			if len(running) >= maxConcurrent {
				break
			}
			job, _ := wf.JobByID(jobID)
			delete(pending, jobID)
			running[jobID] = struct{}{}

			wg.Add(1)
			go s.runJobWithRetries(ctx, job, plan, results, &wg)
		}

		if len(running) == 0 {
			// Nothing ready and nothing in flight but the plan isn't
			// complete: the remaining jobs can never become ready (a gap
			// Validate's cycle/unknown-dependency checks already rule
			// out at build time, but defensive here too).
			if len(ready) == 0 {
				break
			}
			continue
		}

		select {
		case res := <-results:
			delete(running, res.jobID)
			if res.admissionDenied {
				pending[res.jobID] = struct{}{}
				time.Sleep(admissionRetryDelay)
				continue
			}
			rs.mu.Lock()
			if res.err == nil {
				plan.Completed[res.jobID] = struct{}{}
			} else if ctx.Err() != nil {
				plan.Cancelled[res.jobID] = struct{}{}
			} else {
				plan.Failed[res.jobID] = struct{}{}
			}
			rs.mu.Unlock()
		case <-ctx.Done():
			// loop back around; the top-of-loop check drains `running`
			// by cancelling and harvesting remaining results below.
		}
	}

	// Drain any attempts still in flight after a cancel or completion so
	// their goroutines don't leak and their final status lands in plan.
	// An admission denial here can only mean the run is already ending
	// (ctx is done), so it is folded into Cancelled rather than re-queued.
	for len(running) > 0 {
		res := <-results
		delete(running, res.jobID)
		rs.mu.Lock()
		if res.admissionDenied || ctx.Err() != nil {
			plan.Cancelled[res.jobID] = struct{}{}
		} else if res.err == nil {
			plan.Completed[res.jobID] = struct{}{}
		} else {
			plan.Failed[res.jobID] = struct{}{}
		}
		rs.mu.Unlock()
	}

	rs.mu.Lock()
	switch {
	case ctx.Err() != nil:
		plan.Status = models.PlanStatusCancel
	case len(plan.Failed) > 0:
		plan.Status = models.PlanStatusFailed
	default:
		plan.Status = models.PlanStatusComplete
	}
	rs.mu.Unlock()
}

// cancelRemaining marks every job that hasn't started as cancelled when
// the workflow's context is done before they ever got a chance to run.
func (s *Scheduler) cancelRemaining(plan *models.ExecutionPlan, pending map[string]struct{}, running map[string]struct{}) {
	now := time.Now()
	for id := range pending {
		if _, inFlight := running[id]; inFlight {
			continue
		}
		exec := plan.Jobs[id]
		exec.Status = models.JobStatusCancelled
		exec.EndTime = &now
		plan.Cancelled[id] = struct{}{}
		delete(pending, id)
		s.publish(models.JobEvent{Timestamp: now, JobID: id, Kind: models.EventCancelled, ExecutionID: plan.ExecutionID})
	}
}

// runJobWithRetries runs one job's full attempt series: the first attempt,
// then retries with exponential backoff up to RetryConfig.MaxAttempts,
// cancellable at any point via ctx.
func (s *Scheduler) runJobWithRetries(ctx context.Context, job models.JobDefinition, plan *models.ExecutionPlan, results chan<- attemptResult, wg *sync.WaitGroup) {
	defer wg.Done()

	exec := plan.Jobs[job.ID]
	retry := job.Retry
	if retry.MaxAttempts == 0 {
		retry = models.DefaultRetryConfig()
	}

	// Every event for this job carries the plan's execution id, the one
	// Status and CancelExecution look up.
	publish := func(e models.JobEvent) {
		e.ExecutionID = plan.ExecutionID
		s.publish(e)
	}

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		lastErr = s.executor.Attempt(ctx, job, exec, attempt, publish)
		if lastErr == nil {
			results <- attemptResult{jobID: job.ID}
			return
		}

		var admissionErr *execcore.AdmissionError
		if errors.As(lastErr, &admissionErr) {
			// The job never ran: it stays pending and the dispatch loop
			// re-offers it, so this does not count as an attempt.
			results <- attemptResult{jobID: job.ID, admissionDenied: true}
			return
		}

		if ctx.Err() != nil {
			results <- attemptResult{jobID: job.ID, err: lastErr}
			return
		}
		if attempt == retry.MaxAttempts {
			break
		}

		metrics.RetriesTotal.WithLabelValues(job.ID).Inc()
		delay := retry.Delay(attempt)
		s.publish(models.JobEvent{
			Timestamp: time.Now(), JobID: job.ID, Kind: models.EventRetrying, ExecutionID: plan.ExecutionID,
			Details: map[string]any{"attempt": attempt + 1, "delay_ms": delay.Milliseconds()},
		})
		orchlog.Warn("job failed, retrying", zap.String("job_id", job.ID), zap.Int("attempt", attempt), zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			results <- attemptResult{jobID: job.ID, err: ctx.Err()}
			return
		}
	}

	results <- attemptResult{jobID: job.ID, err: lastErr}
}
