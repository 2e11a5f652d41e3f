package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dealcoach/internal/grading"
)

// WorkflowStarter is the subset of client.Client used to start runs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// TemporalDispatcher hands deep analysis to a Temporal worker.
type TemporalDispatcher struct {
	starter   WorkflowStarter
	taskQueue string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewTemporalDispatcher creates a dispatcher starting GradingWorkflow runs
// on taskQueue. timeout bounds one scoring attempt.
func NewTemporalDispatcher(starter WorkflowStarter, taskQueue string, timeout time.Duration, logger *zap.Logger) *TemporalDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemporalDispatcher{starter: starter, taskQueue: taskQueue, timeout: timeout, logger: logger}
}

// WorkflowID is the workflow id used for a session. Starting a second run
// while one is open returns the open run instead.
func WorkflowID(sessionID string) string {
	return "grading-" + sessionID
}

// Dispatch implements grading.Dispatcher.
func (d *TemporalDispatcher) Dispatch(ctx context.Context, sessionID string) error {
	options := client.StartWorkflowOptions{
		ID:        WorkflowID(sessionID),
		TaskQueue: d.taskQueue,
	}

	startCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	we, err := d.starter.ExecuteWorkflow(startCtx, options, GradingWorkflowName, GradingInput{
		SessionID:           sessionID,
		DeepAnalysisTimeout: d.timeout,
	})
	if err != nil {
		workflowStartErrors.Add(ctx, 1)
		return fmt.Errorf("failed to start grading workflow: %w", err)
	}
	workflowStarts.Add(ctx, 1)

	d.logger.Info("grading workflow started",
		zap.String("session.id", sessionID),
		zap.String("workflow_id", we.GetID()),
		zap.String("run_id", we.GetRunID()),
	)
	return nil
}

var _ grading.Dispatcher = (*TemporalDispatcher)(nil)
