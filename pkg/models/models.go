// Package models holds the data types shared across the orchestrator core:
// job definitions, runtime execution state, and the events the executor
// emits as jobs move through their lifecycle.
package models

import (
	"time"
)

// JobKind defines the execution environment of a job.
type JobKind string

const (
	JobKindCommand    JobKind = "command"
	JobKindScript     JobKind = "script"
	JobKindHTTP       JobKind = "http"
	JobKindInlineCode JobKind = "inline-code"
)

// JobStatus represents the state of a job within a single execution plan.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusSkipped   JobStatus = "skipped"
)

// IsTerminal reports whether the status will never transition again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailed, JobStatusCancelled, JobStatusSkipped:
		return true
	default:
		return false
	}
}

// PlanStatus is the overall status of an ExecutionPlan.
type PlanStatus string

const (
	PlanStatusPlanning PlanStatus = "planning"
	PlanStatusRunning  PlanStatus = "running"
	PlanStatusFailed   PlanStatus = "failed"
	PlanStatusComplete PlanStatus = "completed"
	PlanStatusCancel   PlanStatus = "cancelled"
	PlanStatusError    PlanStatus = "error"
)

// RetryConfig controls retry/backoff behavior for a single job.
type RetryConfig struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the conservative single-attempt policy used
// when a JobDefinition does not specify one.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       1,
		InitialDelay:      time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Delay computes the backoff for the given attempt (1-indexed), per
// spec.md §3: min(initial * multiplier^(n-1), max).
func (r RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := r.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(r.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
	}
	if max := float64(r.MaxDelay); r.MaxDelay > 0 && delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// ResourceLimits holds per-job declared reservations and, when used as the
// global configuration, the process-wide hard ceilings.
type ResourceLimits struct {
	MaxMemoryMB       int
	MaxCPUPercent     float64
	MaxExecutionTime  time.Duration
	MaxConcurrentJobs int // only meaningful on the global limits
}

// JobDefinition is the immutable user input for a single job.
type JobDefinition struct {
	ID          string
	Name        string
	Kind        JobKind
	Payload     string // command line / file path / URL / inline code, per Kind
	Language    string // hint for inline-code: "python", "bash", "node"; defaults to "sh"
	HTTPMethod  string // hint for JobKindHTTP; defaults to GET
	WorkingDir  string
	Env         map[string]string
	Schedule    string // optional cron expression, validated but not dispatched by the core
	Dependencies []string
	Timeout     time.Duration
	Retry       RetryConfig
	Limits      ResourceLimits

	// seq records the job's position in the workflow's job list, used as
	// the deterministic tie-break for equally-ready jobs.
	seq int
}

// Seq returns the job's insertion-order index within its workflow.
func (j JobDefinition) Seq() int { return j.seq }

// WorkflowDefinition is the complete, immutable input to ExecuteWorkflow.
type WorkflowDefinition struct {
	Name          string
	Version       string
	Jobs          []JobDefinition
	GlobalConfig  map[string]any
}

// JobByID returns the job definition with the given id, if present.
func (w *WorkflowDefinition) JobByID(id string) (JobDefinition, bool) {
	for _, j := range w.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return JobDefinition{}, false
}

// AssignSequence stamps each job with its insertion-order index. Called by
// orchestrator.Scheduler.ExecuteWorkflow before dagcore.Build so readiness
// tie-breaks are deterministic regardless of how the caller constructed the
// slice.
func (w *WorkflowDefinition) AssignSequence() {
	for i := range w.Jobs {
		w.Jobs[i].seq = i
	}
}

// JobExecution is the mutable runtime state of exactly one job attempt
// series within an ExecutionPlan.
type JobExecution struct {
	JobID       string
	Status      JobStatus
	StartTime   *time.Time
	EndTime     *time.Time
	ExitCode    int
	Stdout      string
	Stderr      string
	Attempt     int
	PID         int
	Error       string
	ExecutionID string
}

// Duration returns the wall time of the most recent attempt, or zero if
// the job has not finished.
func (e *JobExecution) Duration() time.Duration {
	if e.StartTime == nil || e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(*e.StartTime)
}

// DAGMetadata summarizes the structure of a validated DAG.
type DAGMetadata struct {
	TotalJobs          int
	Levels             int
	CriticalPathLength int
	MaxParallelism     int
	HasCycles          bool
}

// ExecutionPlan is the per-run aggregate the Scheduler owns exclusively.
type ExecutionPlan struct {
	ExecutionID string
	Jobs        map[string]*JobExecution
	DAGMeta     DAGMetadata
	StartTime   time.Time
	Status      PlanStatus

	Completed map[string]struct{}
	Failed    map[string]struct{}
	Cancelled map[string]struct{}
	Skipped   map[string]struct{}
}

// NewExecutionPlan builds an empty plan with one pending JobExecution per
// job definition.
func NewExecutionPlan(executionID string, jobs []JobDefinition, meta DAGMetadata, now time.Time) *ExecutionPlan {
	p := &ExecutionPlan{
		ExecutionID: executionID,
		Jobs:        make(map[string]*JobExecution, len(jobs)),
		DAGMeta:     meta,
		StartTime:   now,
		Status:      PlanStatusPlanning,
		Completed:   make(map[string]struct{}),
		Failed:      make(map[string]struct{}),
		Cancelled:   make(map[string]struct{}),
		Skipped:     make(map[string]struct{}),
	}
	for _, j := range jobs {
		p.Jobs[j.ID] = &JobExecution{
			JobID:  j.ID,
			Status: JobStatusPending,
		}
	}
	return p
}

// Unreachable returns the union of failed, cancelled and skipped job ids —
// the set dagcore.Ready treats as blocking dependents.
func (p *ExecutionPlan) Unreachable() map[string]struct{} {
	out := make(map[string]struct{}, len(p.Failed)+len(p.Cancelled)+len(p.Skipped))
	for id := range p.Failed {
		out[id] = struct{}{}
	}
	for id := range p.Cancelled {
		out[id] = struct{}{}
	}
	for id := range p.Skipped {
		out[id] = struct{}{}
	}
	return out
}

// IsComplete reports whether every job has reached a terminal outcome.
func (p *ExecutionPlan) IsComplete() bool {
	return len(p.Completed)+len(p.Failed)+len(p.Cancelled)+len(p.Skipped) == len(p.Jobs)
}

// JobEventKind enumerates the lifecycle events the Executor emits.
type JobEventKind string

const (
	EventStarted   JobEventKind = "started"
	EventCompleted JobEventKind = "completed"
	EventFailed    JobEventKind = "failed"
	EventCancelled JobEventKind = "cancelled"
	EventRetrying  JobEventKind = "retrying"
	EventSkipped   JobEventKind = "skipped"
)

// JobEvent is an immutable fact about a job's lifecycle transition.
type JobEvent struct {
	Timestamp   time.Time
	JobID       string
	Kind        JobEventKind
	Details     map[string]any
	ExecutionID string
}
