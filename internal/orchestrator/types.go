package orchestrator

import (
	"fmt"

	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// Phase names the part of a turn an error came from.
type Phase string

const (
	PhaseSelect   Phase = "select"
	PhaseEvaluate Phase = "evaluate"
	PhaseGenerate Phase = "generate"
	PhaseAgent    Phase = "agent"
)

// RunError aborts a run. Traces holds every turn completed before the
// failure; no Result is produced.
type RunError struct {
	Phase     Phase
	TurnIndex int
	Traces    []trajectory.StepTrace
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("turn %d %s: %v", e.TurnIndex, e.Phase, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Progress is reported once per turn and once when the run stops.
type Progress struct {
	TrajectoryID string
	RunID        string
	TurnIndex    int
	StepID       trajectory.StepID
	Method       trajectory.SelectionMethod
	StepStatus   trajectory.StepStatus

	// Stop is set on the final report.
	Stop *trajectory.End
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(Progress)
