package workflows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/dealcoach/internal/faults"
)

// fakeGrader returns scripted deep analysis results, repeating the last.
type fakeGrader struct {
	mu          sync.Mutex
	deep        []error
	degradeErr  error
	deepCalls   int
	degraded    []string
	degradeRuns int
}

func (g *fakeGrader) DeepAnalysis(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var err error
	if len(g.deep) > 0 {
		err = g.deep[min(g.deepCalls, len(g.deep)-1)]
	}
	g.deepCalls++
	return err
}

func (g *fakeGrader) Degrade(_ context.Context, sessionID string, cause error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.degradeRuns++
	if g.degradeErr != nil {
		return g.degradeErr
	}
	g.degraded = append(g.degraded, sessionID+": "+cause.Error())
	return nil
}

func runGrading(t *testing.T, g *fakeGrader) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(GradingWorkflow)
	env.RegisterActivity(NewActivities(g))

	env.ExecuteWorkflow(GradingWorkflow, GradingInput{SessionID: "s1"})
	require.True(t, env.IsWorkflowCompleted())
	return env
}

func TestGradingWorkflow(t *testing.T) {
	t.Run("completes when deep analysis succeeds", func(t *testing.T) {
		g := &fakeGrader{}
		env := runGrading(t, g)

		require.NoError(t, env.GetWorkflowError())
		var result GradingResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, "s1", result.SessionID)
		assert.False(t, result.Degraded)
		assert.Empty(t, result.Errors)
		assert.Equal(t, 1, g.deepCalls)
		assert.Zero(t, g.degradeRuns)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		g := &fakeGrader{deep: []error{
			faults.New(faults.KindTransientNetwork, "score", errors.New("connection reset")),
			nil,
		}}
		env := runGrading(t, g)

		require.NoError(t, env.GetWorkflowError())
		var result GradingResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.False(t, result.Degraded)
		assert.Equal(t, 2, g.deepCalls)
		assert.Zero(t, g.degradeRuns)
	})

	t.Run("degrades after retries are exhausted", func(t *testing.T) {
		g := &fakeGrader{deep: []error{
			faults.Upstream("score", 503, errors.New("overloaded")),
		}}
		env := runGrading(t, g)

		require.NoError(t, env.GetWorkflowError())
		var result GradingResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.True(t, result.Degraded)
		require.Len(t, result.Errors, 1)
		assert.True(t, strings.HasPrefix(result.Errors[0], "[high] deep_analysis: "), result.Errors[0])
		assert.Equal(t, 3, g.deepCalls)
		require.Len(t, g.degraded, 1)
		assert.Contains(t, g.degraded[0], "overloaded")
	})

	t.Run("does not retry permanent failures", func(t *testing.T) {
		g := &fakeGrader{deep: []error{
			faults.New(faults.KindParseFailure, "score", errors.New("unexpected token")),
		}}
		env := runGrading(t, g)

		require.NoError(t, env.GetWorkflowError())
		var result GradingResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.True(t, result.Degraded)
		assert.Equal(t, 1, g.deepCalls)
		assert.Equal(t, 1, g.degradeRuns)
	})

	t.Run("fails when the session cannot be degraded", func(t *testing.T) {
		g := &fakeGrader{
			deep:       []error{faults.New(faults.KindParseFailure, "score", errors.New("unexpected token"))},
			degradeErr: errors.New("store unavailable"),
		}
		env := runGrading(t, g)

		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "degrade_session")
		assert.Equal(t, 5, g.degradeRuns)
	})
}

func TestActivities_DeepAnalysis(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}

	t.Run("permanent failures are non-retryable", func(t *testing.T) {
		env := testSuite.NewTestActivityEnvironment()
		acts := NewActivities(&fakeGrader{deep: []error{
			faults.New(faults.KindParseFailure, "score", errors.New("unexpected token")),
		}})
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.DeepAnalysis, DeepAnalysisInput{SessionID: "s1"})
		require.Error(t, err)
		var appErr *temporal.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.True(t, appErr.NonRetryable())
		assert.Equal(t, string(faults.KindParseFailure), appErr.Type())
	})

	t.Run("transient failures stay retryable", func(t *testing.T) {
		env := testSuite.NewTestActivityEnvironment()
		acts := NewActivities(&fakeGrader{deep: []error{
			faults.New(faults.KindTimeout, "score", context.DeadlineExceeded),
		}})
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.DeepAnalysis, DeepAnalysisInput{SessionID: "s1"})
		require.Error(t, err)
		var appErr *temporal.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.False(t, appErr.NonRetryable())
	})
}

func TestWorkflowError(t *testing.T) {
	cause := errors.New("store unavailable")
	err := NewWorkflowError(StepDegrade, ErrorSeverityCritical, cause, "s1")

	assert.Equal(t, "degrade_session of session s1 failed: store unavailable", err.Error())
	assert.Equal(t, "[critical] degrade_session: store unavailable", err.Summary())
	assert.ErrorIs(t, err, cause)

	var wfErr *WorkflowError
	require.ErrorAs(t, WrapActivityError("degrade", err), &wfErr)
	assert.Equal(t, ErrorSeverityCritical, wfErr.Severity)
}
