package workflows

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/dealcoach/internal/faults"
)

// Grader is the part of the grading orchestrator the activities drive.
type Grader interface {
	DeepAnalysis(ctx context.Context, sessionID string) error
	Degrade(ctx context.Context, sessionID string, cause error) error
}

// DeepAnalysisInput is the input of the deep analysis activity.
type DeepAnalysisInput struct {
	SessionID string
}

// DegradeInput is the input of the degrade activity.
type DegradeInput struct {
	SessionID string
	Cause     string
}

// Activities binds the grading activities to a Grader. Register an
// instance with the worker; workflows reference the methods through a nil
// pointer.
type Activities struct {
	grader Grader
}

// NewActivities creates the activity set.
func NewActivities(grader Grader) *Activities {
	return &Activities{grader: grader}
}

// DeepAnalysis runs deep analysis. Failures that cannot succeed on retry
// are returned as non-retryable application errors typed by fault kind.
func (a *Activities) DeepAnalysis(ctx context.Context, input DeepAnalysisInput) error {
	start := time.Now()
	attempt := activity.GetInfo(ctx).Attempt
	activity.GetLogger(ctx).Info("Running deep analysis", "session_id", input.SessionID, "attempt", attempt)

	err := a.grader.DeepAnalysis(ctx, input.SessionID)
	recordActivity(ctx, StepDeepAnalysis, start, err)
	if err == nil {
		return nil
	}
	if !faults.Retryable(err) {
		return temporal.NewNonRetryableApplicationError(err.Error(), string(faults.KindOf(err)), err)
	}
	return WrapActivityError(StepDeepAnalysis, err)
}

// Degrade settles a session whose deep analysis failed.
func (a *Activities) Degrade(ctx context.Context, input DegradeInput) error {
	start := time.Now()
	activity.GetLogger(ctx).Warn("Degrading session", "session_id", input.SessionID, "cause", input.Cause)

	err := a.grader.Degrade(ctx, input.SessionID, errors.New(input.Cause))
	recordActivity(ctx, StepDegrade, start, err)
	if err != nil {
		return WrapActivityError("degrade", err)
	}
	degradedCounter.Add(ctx, 1)
	return nil
}

func recordActivity(ctx context.Context, name string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("activity", name))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, attrs)
	}
}
