package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// runActivityTimeout bounds a single trajectory run, including all of its
// model and agent calls.
const runActivityTimeout = 30 * time.Minute

// BatchWorkflow runs every document of the batch as an independent
// RunDocumentActivity, at most MaxParallel at a time, and aggregates the
// outcomes. A failing run is recorded in its summary and never fails the
// batch; only invalid input does.
func BatchWorkflow(ctx workflow.Context, config BatchConfig) (*BatchResult, error) {
	logger := workflow.GetLogger(ctx)

	result := &BatchResult{Reasons: map[string]int{}}
	if err := config.Validate(); err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("invalid batch", err))
		return result, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidBatch", err)
	}

	logger.Info("Starting trajectory batch",
		"documents", len(config.Documents),
		"max_parallel", config.parallelism())

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: runActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        2,
			NonRetryableErrorTypes: []string{errTypeInvalidDocument},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *Activities
	result.Runs = make([]RunSummary, len(config.Documents))
	sel := workflow.NewSelector(ctx)
	next, pending := 0, 0

	start := func() {
		idx := next
		doc := config.Documents[idx]
		next++
		pending++

		f := workflow.ExecuteActivity(ctx, a.RunDocumentActivity, RunDocumentInput{Document: doc})
		sel.AddFuture(f, func(f workflow.Future) {
			pending--
			var s RunSummary
			if err := f.Get(ctx, &s); err != nil {
				logger.Warn("Trajectory run failed", "document", doc.Name, "error", err)
				s = RunSummary{Name: doc.Name, Error: err.Error()}
				result.Errors = append(result.Errors, FormatErrorForResult("run "+doc.Name, err))
			}
			result.Runs[idx] = s
		})
	}

	for next < len(config.Documents) && pending < config.parallelism() {
		start()
	}
	for pending > 0 {
		sel.Select(ctx)
		if next < len(config.Documents) {
			start()
		}
	}

	for _, s := range result.Runs {
		switch {
		case s.Error != "":
			result.Failed++
		default:
			result.Reasons[string(s.Reason)]++
			if s.Completed {
				result.Completed++
			}
		}
	}

	logger.Info("Trajectory batch complete",
		"completed", result.Completed,
		"failed", result.Failed)

	return result, nil
}
