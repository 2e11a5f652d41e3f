// Package workflows runs the deep-analysis phase of grading as a Temporal
// workflow, so a run survives restarts of the process that started it.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// GradingWorkflowName is the registered workflow type.
const GradingWorkflowName = "GradingWorkflow"

const defaultDeepAnalysisTimeout = 2 * time.Minute

// GradingInput identifies the session to analyse.
type GradingInput struct {
	SessionID           string
	DeepAnalysisTimeout time.Duration // Upper bound for one scoring attempt
}

// GradingResult reports how the run ended.
type GradingResult struct {
	SessionID string
	Degraded  bool     // Session was completed from preliminary scores
	Errors    []string // Failures encountered along the way
}

// GradingWorkflow runs deep analysis for a session and degrades it to a
// partial result when every attempt fails.
//
// This workflow:
// 1. Executes the deep analysis activity with retries for transient failures
// 2. On failure, executes the degrade activity so the session never stays grading
func GradingWorkflow(ctx workflow.Context, input GradingInput) (*GradingResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting grading workflow", "session_id", input.SessionID)

	timeout := input.DeepAnalysisTimeout
	if timeout <= 0 {
		timeout = defaultDeepAnalysisTimeout
	}

	var a *Activities
	result := &GradingResult{SessionID: input.SessionID}

	deepCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout + 30*time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})
	err := workflow.ExecuteActivity(deepCtx, a.DeepAnalysis, DeepAnalysisInput{SessionID: input.SessionID}).Get(ctx, nil)
	if err == nil {
		logger.Info("Grading workflow complete", "session_id", input.SessionID)
		return result, nil
	}

	logger.Warn("Deep analysis failed, degrading session", "session_id", input.SessionID, "error", err)
	deepErr := NewWorkflowError(StepDeepAnalysis, ErrorSeverityHigh, err, input.SessionID)
	result.Errors = append(result.Errors, deepErr.Summary())

	degradeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 5,
		},
	})
	err = workflow.ExecuteActivity(degradeCtx, a.Degrade, DegradeInput{
		SessionID: input.SessionID,
		Cause:     err.Error(),
	}).Get(ctx, nil)
	if err != nil {
		degradeErr := NewWorkflowError(StepDegrade, ErrorSeverityCritical, err, input.SessionID)
		result.Errors = append(result.Errors, degradeErr.Summary())
		return result, degradeErr
	}

	result.Degraded = true
	logger.Info("Grading workflow complete with partial results", "session_id", input.SessionID)
	return result, nil
}
