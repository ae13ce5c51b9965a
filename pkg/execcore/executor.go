// Package execcore drives a single job attempt end to end: resource
// admission, runner dispatch, lifecycle event emission, and the
// status/exit-code bookkeeping the scheduler folds back into its
// ExecutionPlan.
//
// Grounded on the teacher's pkg/executor/core.go worker loop (admission
// check before dispatch, heartbeat-style status reporting) and on
// original_source/baselines/CLI-011/src/executor.py's JobExecutor, which
// performs the same admit -> run -> record sequence synchronously per job.
package execcore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skeenode/pkg/execcore/runner"
	"skeenode/pkg/metrics"
	"skeenode/pkg/models"
	"skeenode/pkg/orchlog"
	"skeenode/pkg/resources"
)

// Executor runs one job attempt at a time on behalf of the scheduler. It
// owns no scheduling policy — it only knows how to admit, run, and report
// a single attempt.
type Executor struct {
	resourceMgr *resources.Manager
	runners     map[models.JobKind]runner.JobRunner
}

// New builds an Executor with the standard runner set: shell commands and
// scripts share a ShellRunner, HTTP jobs get a circuit-breaker-wrapped
// HTTPRunner, and inline code gets an InlineRunner.
func New(resourceMgr *resources.Manager) *Executor {
	shell := runner.NewShellRunner()
	return &Executor{
		resourceMgr: resourceMgr,
		runners: map[models.JobKind]runner.JobRunner{
			models.JobKindCommand:    shell,
			models.JobKindScript:     shell,
			models.JobKindHTTP:       runner.NewHTTPRunner(),
			models.JobKindInlineCode: runner.NewInlineRunner(),
		},
	}
}

// AdmissionError is returned by Attempt when the resource manager denies
// the attempt before it ever starts.
type AdmissionError struct {
	JobID string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("job '%s' denied admission: insufficient resources", e.JobID)
}

// Attempt runs one attempt of job, honoring ctx for cancellation and the
// job's own Timeout for a hard deadline, and emits lifecycle events onto
// publish as the attempt starts and finishes. It mutates exec in place to
// reflect the outcome, per spec.md §4.3.
func (ex *Executor) Attempt(ctx context.Context, job models.JobDefinition, exec *models.JobExecution, attempt int, publish func(models.JobEvent)) error {
	if !ex.resourceMgr.Reserve(job.ID, job.Limits) {
		return &AdmissionError{JobID: job.ID}
	}
	defer ex.resourceMgr.Release(job.ID, job.Limits)

	attemptCtx := ctx
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	executionID := uuid.NewString()
	now := time.Now()
	exec.Status = models.JobStatusRunning
	exec.StartTime = &now
	exec.Attempt = attempt
	exec.ExecutionID = executionID

	orchlog.Info("job attempt started",
		zap.String("job_id", job.ID), zap.Int("attempt", attempt), zap.String("execution_id", executionID))
	publish(models.JobEvent{
		Timestamp: now, JobID: job.ID, Kind: models.EventStarted, ExecutionID: executionID,
		Details: map[string]any{"attempt": attempt},
	})

	r, ok := ex.runners[job.Kind]
	if !ok {
		r = ex.runners[models.JobKindCommand]
	}

	spec := runner.Spec{
		Command:    resolveCommand(job),
		Args:       resolveArgs(job),
		Env:        job.Env,
		WorkingDir: job.WorkingDir,
		Payload:    job.Payload,
	}

	result := r.Run(attemptCtx, spec)

	if reporter, ok := r.(runner.PIDReporter); ok {
		if pid := reporter.LastPID(); pid > 0 {
			exec.PID = pid
			ex.resourceMgr.RegisterProcess(job.ID, pid)
		}
	}

	end := time.Now()
	exec.EndTime = &end
	exec.ExitCode = result.ExitCode
	exec.Stdout = result.Stdout
	exec.Stderr = result.Stderr

	cancelled := ctx.Err() != nil
	timedOut := attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil

	switch {
	case cancelled:
		exec.Status = models.JobStatusCancelled
		exec.Error = "cancelled"
		publish(models.JobEvent{Timestamp: end, JobID: job.ID, Kind: models.EventCancelled, ExecutionID: executionID})
		metrics.RecordExecution(job.ID, string(job.Kind), "cancelled", result.Duration.Seconds())
		return ctx.Err()

	case timedOut:
		exec.Status = models.JobStatusFailed
		exec.Error = fmt.Sprintf("attempt timed out after %s", job.Timeout)
		publish(models.JobEvent{
			Timestamp: end, JobID: job.ID, Kind: models.EventFailed, ExecutionID: executionID,
			Details: map[string]any{"reason": "timeout"},
		})
		metrics.RecordExecution(job.ID, string(job.Kind), "failed", result.Duration.Seconds())
		return fmt.Errorf("job '%s' timed out after %s", job.ID, job.Timeout)

	case result.ExitCode != 0 || result.Error != nil:
		exec.Status = models.JobStatusFailed
		if result.Error != nil {
			exec.Error = result.Error.Error()
		} else {
			exec.Error = fmt.Sprintf("exit code %d", result.ExitCode)
		}
		publish(models.JobEvent{
			Timestamp: end, JobID: job.ID, Kind: models.EventFailed, ExecutionID: executionID,
			Details: map[string]any{"exit_code": result.ExitCode},
		})
		metrics.RecordExecution(job.ID, string(job.Kind), "failed", result.Duration.Seconds())
		return fmt.Errorf("job '%s' failed: %s", job.ID, exec.Error)

	default:
		exec.Status = models.JobStatusSuccess
		publish(models.JobEvent{Timestamp: end, JobID: job.ID, Kind: models.EventCompleted, ExecutionID: executionID})
		metrics.RecordExecution(job.ID, string(job.Kind), "success", result.Duration.Seconds())
		return nil
	}
}

func resolveCommand(job models.JobDefinition) string {
	switch job.Kind {
	case models.JobKindInlineCode:
		return job.Language
	case models.JobKindHTTP:
		return job.HTTPMethod
	default:
		return "sh"
	}
}

func resolveArgs(job models.JobDefinition) []string {
	switch job.Kind {
	case models.JobKindCommand, models.JobKindScript:
		return []string{"-c", job.Payload}
	default:
		return nil
	}
}
