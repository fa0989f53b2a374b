package trajectory

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidGraph is wrapped by every GraphError.
	ErrInvalidGraph = errors.New("invalid step graph")

	// ErrMissingUserModel is returned when a trajectory has no usable user model.
	ErrMissingUserModel = errors.New("user model is required")
)

// GraphError lists every integrity problem found while constructing a graph.
type GraphError struct {
	Problems []string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidGraph, strings.Join(e.Problems, "; "))
}

func (e *GraphError) Unwrap() error {
	return ErrInvalidGraph
}
