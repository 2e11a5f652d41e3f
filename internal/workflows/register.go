package workflows

import (
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// Register registers the grading workflow and activities on a worker.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(GradingWorkflow, workflow.RegisterOptions{Name: GradingWorkflowName})
	r.RegisterActivity(acts)
}
