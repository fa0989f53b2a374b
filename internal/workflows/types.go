// Package workflows provides the Temporal batch workflow that runs many
// trajectory documents as independent activities.
package workflows

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/convsim/internal/definition"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// MaxBatchSize bounds the number of documents in one batch.
const MaxBatchSize = 500

// DefaultMaxParallel is used when BatchConfig.MaxParallel is unset.
const DefaultMaxParallel = 4

// Validation errors
var (
	// ErrInvalidInput indicates workflow input validation failed.
	ErrInvalidInput = errors.New("invalid workflow input")

	// ErrEmptyField indicates a required field is empty.
	ErrEmptyField = errors.New("required field is empty")
)

var documentNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)

// BatchDocument is one trajectory document carried inline.
type BatchDocument struct {
	Name    string            // Unique within the batch; used in results and logs
	Format  definition.Format // yaml, json or toml
	Content string            // Raw document
}

// BatchConfig configures BatchWorkflow.
type BatchConfig struct {
	Documents   []BatchDocument
	MaxParallel int // Concurrent activities; DefaultMaxParallel when zero
}

// Validate checks that the batch can be scheduled.
func (c *BatchConfig) Validate() error {
	if len(c.Documents) == 0 {
		return fmt.Errorf("%w: Documents", ErrEmptyField)
	}
	if len(c.Documents) > MaxBatchSize {
		return fmt.Errorf("%w: at most %d documents per batch, got %d", ErrInvalidInput, MaxBatchSize, len(c.Documents))
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("%w: MaxParallel must be non-negative", ErrInvalidInput)
	}

	seen := make(map[string]bool, len(c.Documents))
	for i, d := range c.Documents {
		if d.Name == "" {
			return fmt.Errorf("%w: Documents[%d].Name", ErrEmptyField, i)
		}
		if !documentNamePattern.MatchString(d.Name) {
			return fmt.Errorf("%w: document name %q must match %s", ErrInvalidInput, d.Name, documentNamePattern)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate document name %q", ErrInvalidInput, d.Name)
		}
		seen[d.Name] = true
		if d.Content == "" {
			return fmt.Errorf("%w: Documents[%d].Content", ErrEmptyField, i)
		}
		switch d.Format {
		case definition.FormatYAML, definition.FormatJSON, definition.FormatTOML:
		default:
			return fmt.Errorf("%w: document %q has unsupported format %q", ErrInvalidInput, d.Name, d.Format)
		}
	}
	return nil
}

func (c *BatchConfig) parallelism() int {
	if c.MaxParallel == 0 {
		return DefaultMaxParallel
	}
	return c.MaxParallel
}

// RunSummary is the outcome of one document. Error is set when the run
// could not produce a result.
type RunSummary struct {
	Name         string
	TrajectoryID string
	RunID        string
	Completed    bool
	Reason       trajectory.StopReason
	Turns        int
	Error        string
}

// BatchResult aggregates every run of a batch.
type BatchResult struct {
	Runs      []RunSummary   // In document order
	Reasons   map[string]int // Stop reason counts over runs that produced a result
	Completed int            // Runs that reached a terminal step
	Failed    int            // Runs that produced no result
	Errors    []string
}

// RunDocumentInput defines parameters for RunDocumentActivity.
type RunDocumentInput struct {
	Document BatchDocument
}
