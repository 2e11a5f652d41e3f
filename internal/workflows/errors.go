package workflows

import (
	"fmt"
)

// ErrorSeverity ranks failures recorded by GradingWorkflow.
type ErrorSeverity string

const (
	// ErrorSeverityCritical marks a failure that left the session unsettled.
	ErrorSeverityCritical ErrorSeverity = "critical"
	// ErrorSeverityHigh marks a failure the workflow recovered from by
	// degrading the session.
	ErrorSeverityHigh ErrorSeverity = "high"
)

// Grading steps named in workflow errors.
const (
	StepDeepAnalysis = "deep_analysis"
	StepDegrade      = "degrade_session"
)

// WorkflowError is a failed grading step of one session.
type WorkflowError struct {
	Step      string
	SessionID string
	Severity  ErrorSeverity
	Err       error
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s of session %s failed: %v", e.Step, e.SessionID, e.Err)
}

// Unwrap allows errors.Is and errors.As to reach the step failure.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Summary is the one-line form kept in GradingResult.Errors.
func (e *WorkflowError) Summary() string {
	return fmt.Sprintf("[%s] %s: %v", e.Severity, e.Step, e.Err)
}

// NewWorkflowError creates a WorkflowError.
func NewWorkflowError(step string, severity ErrorSeverity, err error, sessionID string) *WorkflowError {
	return &WorkflowError{
		Step:      step,
		SessionID: sessionID,
		Severity:  severity,
		Err:       err,
	}
}

// WrapActivityError wraps an activity error with operation context.
func WrapActivityError(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, err)
}
