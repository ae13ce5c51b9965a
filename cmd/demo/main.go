// Command demo runs a sample workflow through the orchestrator core and
// prints its lifecycle events, exercising the full dispatch/retry/cancel
// path end to end. Grounded on the teacher's cmd/scheduler/main.go
// graceful-shutdown pattern (signal.Notify + cancellable context), minus
// the distributed coordination this binary has no use for.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "skeenode/configs"
	"skeenode/pkg/models"
	"skeenode/pkg/orchestrator"
	"skeenode/pkg/orchlog"
)

func main() {
	cfg := config.LoadConfig()

	if _, err := orchlog.Init(orchlog.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: "stdout",
		Service:    "orchestrator-demo",
	}); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer orchlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sched := orchestrator.New(cfg.GlobalResourceLimits())
	events := sched.Subscribe()
	go func() {
		for e := range events {
			orchlog.Info("lifecycle event",
				zap.String("job_id", e.JobID),
				zap.String("kind", string(e.Kind)),
				zap.String("execution_id", e.ExecutionID))
		}
	}()

	wf := sampleWorkflow()

	resultCh := make(chan *models.ExecutionPlan, 1)
	errCh := make(chan error, 1)
	go func() {
		plan, err := sched.ExecuteWorkflow(ctx, wf)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- plan
	}()

	select {
	case sig := <-sigChan:
		orchlog.Info("received signal, cancelling workflow", zap.String("signal", sig.String()))
		cancel()
		<-resultCh
	case err := <-errCh:
		log.Fatalf("workflow rejected: %v", err)
	case plan := <-resultCh:
		orchlog.Info("workflow finished", zap.String("status", string(plan.Status)))
		for id, exec := range plan.Jobs {
			orchlog.Info("job result",
				zap.String("job_id", id),
				zap.String("status", string(exec.Status)),
				zap.Int("exit_code", exec.ExitCode))
		}
	}

	orchlog.Info("demo complete")
}

func sampleWorkflow() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name:    "sample-etl",
		Version: "1",
		Jobs: []models.JobDefinition{
			{
				ID: "extract", Name: "extract", Kind: models.JobKindCommand,
				Payload: "echo extracting data",
				Timeout: 30 * time.Second,
				Retry:   models.DefaultRetryConfig(),
				Limits:  models.ResourceLimits{MaxMemoryMB: 128},
			},
			{
				ID: "transform", Name: "transform", Kind: models.JobKindCommand,
				Payload: "echo transforming data", Dependencies: []string{"extract"},
				Timeout: 30 * time.Second,
				Retry:   models.DefaultRetryConfig(),
				Limits:  models.ResourceLimits{MaxMemoryMB: 256},
			},
			{
				ID: "validate", Name: "validate", Kind: models.JobKindInlineCode,
				Language: "python", Payload: "print('validation ok')",
				Dependencies: []string{"extract"},
				Timeout:      30 * time.Second,
				Retry:        models.DefaultRetryConfig(),
			},
			{
				ID: "load", Name: "load", Kind: models.JobKindCommand,
				Payload: "echo loading data", Dependencies: []string{"transform", "validate"},
				Timeout: 30 * time.Second,
				Retry:   models.DefaultRetryConfig(),
				Limits:  models.ResourceLimits{MaxMemoryMB: 256},
			},
		},
	}
}
