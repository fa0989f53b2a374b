// Package store persists finished runs: the flattened conversation record,
// a declarative snapshot of the trajectory, and the raw step traces. Every
// artifact is written at most once per run.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

var (
	// ErrAlreadyWritten is returned when an artifact for a run exists.
	ErrAlreadyWritten = errors.New("artifact already written")

	// ErrNotFound is returned when reading an artifact that was never written.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidKey is returned for ids unusable as path or subject tokens.
	ErrInvalidKey = errors.New("invalid store key")
)

// Artifact names one of the three per-run documents.
type Artifact string

const (
	ArtifactConversation Artifact = "conversation"
	ArtifactDefinition   Artifact = "definition"
	ArtifactTraces       Artifact = "traces"
)

// Key identifies one run of one trajectory.
type Key struct {
	TrajectoryID string
	RunID        string
}

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// Validate checks both ids are safe as file names and NATS tokens.
func (k Key) Validate() error {
	if !keyPattern.MatchString(k.TrajectoryID) {
		return fmt.Errorf("%w: trajectory id %q", ErrInvalidKey, k.TrajectoryID)
	}
	if !keyPattern.MatchString(k.RunID) {
		return fmt.Errorf("%w: run id %q", ErrInvalidKey, k.RunID)
	}
	return nil
}

func (k Key) String() string {
	return k.TrajectoryID + "/" + k.RunID
}

// Store is the persistence collaborator of a run.
type Store interface {
	SaveConversation(ctx context.Context, key Key, rec conversation.Record) error
	SaveDefinition(ctx context.Context, key Key, snap trajectory.Snapshot) error
	SaveTraces(ctx context.Context, key Key, traces []trajectory.StepTrace) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) SaveConversation(context.Context, Key, conversation.Record) error { return nil }
func (Nop) SaveDefinition(context.Context, Key, trajectory.Snapshot) error   { return nil }
func (Nop) SaveTraces(context.Context, Key, []trajectory.StepTrace) error    { return nil }
