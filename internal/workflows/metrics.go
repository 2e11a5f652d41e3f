package workflows

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/dealcoach/internal/workflows"

// Metrics are recorded from activities and the dispatcher only; workflow
// code replays and would count twice.
var (
	workflowStarts       metric.Int64Counter
	workflowStartErrors  metric.Int64Counter
	degradedCounter      metric.Int64Counter
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	workflowStarts, err = meter.Int64Counter(
		"dealcoach.workflows.grading.starts",
		metric.WithDescription("Number of grading workflows started"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create workflow start counter: %v", err))
	}

	workflowStartErrors, err = meter.Int64Counter(
		"dealcoach.workflows.grading.start_errors",
		metric.WithDescription("Number of grading workflows that failed to start"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create workflow start error counter: %v", err))
	}

	degradedCounter, err = meter.Int64Counter(
		"dealcoach.workflows.grading.degraded",
		metric.WithDescription("Number of sessions completed from preliminary scores"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create degraded counter: %v", err))
	}

	activityDuration, err = meter.Float64Histogram(
		"dealcoach.workflows.activity.duration",
		metric.WithDescription("Duration of grading activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"dealcoach.workflows.activity.errors",
		metric.WithDescription("Number of grading activity errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}
