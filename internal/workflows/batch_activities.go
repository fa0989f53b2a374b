package workflows

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/convsim/internal/definition"
	"github.com/fyrsmithlabs/convsim/internal/services"
	"github.com/fyrsmithlabs/convsim/internal/target"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

const errTypeInvalidDocument = "InvalidDocument"

// Activities holds the collaborators activities run against. Register a
// non-nil instance with the worker.
type Activities struct {
	Registry *services.Registry
}

// RunDocumentActivity parses one document and runs it to completion.
// Invalid documents fail without retry; aborted runs return an error so
// Temporal may retry them.
func (a *Activities) RunDocumentActivity(ctx context.Context, input RunDocumentInput) (*RunSummary, error) {
	logger := activity.GetLogger(ctx)
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("format", string(input.Document.Format)))
	defer func() {
		activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	doc, err := definition.Parse([]byte(input.Document.Content), input.Document.Format)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, attrs)
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypeInvalidDocument, err)
	}

	res, err := a.Registry.RunDocument(ctx, doc, nil)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, attrs)
		if permanent(err) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypeInvalidDocument, err)
		}
		return nil, WrapActivityError("failed to run trajectory", err)
	}

	logger.Info("Trajectory run finished",
		"document", input.Document.Name,
		"reason", string(res.Reason),
		"turns", len(res.Steps))

	return &RunSummary{
		Name:         input.Document.Name,
		TrajectoryID: res.TrajectoryID,
		RunID:        res.RunID,
		Completed:    res.Completed,
		Reason:       res.Reason,
		Turns:        len(res.Steps),
	}, nil
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, definition.ErrInvalidDocument) ||
		errors.Is(err, trajectory.ErrMissingUserModel) ||
		errors.Is(err, target.ErrInvalidSpec) ||
		errors.Is(err, services.ErrNoTarget)
}
