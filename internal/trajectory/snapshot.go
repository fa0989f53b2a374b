package trajectory

import (
	"strconv"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
)

// Snapshot is the declarative, serializable view of a trajectory. Function
// values are erased to descriptors and the API key is never included.
type Snapshot struct {
	ID            string            `json:"id"`
	Goal          string            `json:"goal"`
	Persona       Persona           `json:"persona"`
	Mode          Mode              `json:"mode"`
	MaxTurns      *int              `json:"max_turns,omitempty"`
	LoopDetection LoopDetection     `json:"loop_detection"`
	Selector      SelectorConfig    `json:"selector"`
	UserModel     UserModelSnapshot `json:"user_model"`
	Graph         *GraphSnapshot    `json:"graph,omitempty"`
}

// UserModelSnapshot describes the user model without credentials.
type UserModelSnapshot struct {
	Kind     UserModelKind `json:"kind"`
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model,omitempty"`
}

// GraphSnapshot is the declarative form of a StepGraph.
type GraphSnapshot struct {
	Start     StepID         `json:"start"`
	Terminals []StepID       `json:"terminals,omitempty"`
	Steps     []StepSnapshot `json:"steps"`
}

// StepSnapshot is the declarative form of a StepDefinition.
type StepSnapshot struct {
	ID            StepID                 `json:"id"`
	Instruction   string                 `json:"instruction"`
	Hints         []string               `json:"hints,omitempty"`
	Preconditions []PreconditionSnapshot `json:"preconditions,omitempty"`
	MaxAttempts   int                    `json:"max_attempts,omitempty"`
	TimeoutMs     int64                  `json:"timeout_ms,omitempty"`
	Satisfaction  string                 `json:"satisfaction"`
}

// PreconditionSnapshot is the declarative form of a Precondition.
type PreconditionSnapshot struct {
	Type        PreconditionType `json:"type"`
	StepID      StepID           `json:"step_id,omitempty"`
	Description string           `json:"description,omitempty"`
}

// SnapshotOf erases t to its declarative form.
func SnapshotOf(t *Trajectory) Snapshot {
	snap := Snapshot{
		ID:            t.ID,
		Goal:          t.Goal,
		Persona:       t.Persona,
		Mode:          t.Mode,
		MaxTurns:      t.MaxTurns,
		LoopDetection: t.LoopDetection.WithDefaults(),
		Selector:      t.Selector.WithDefaults(),
		UserModel:     UserModelSnapshot{Kind: t.UserModel.Kind},
	}
	if t.UserModel.Kind == UserModelConfig {
		snap.UserModel.Provider = t.UserModel.Config.Provider
		snap.UserModel.Model = t.UserModel.Config.Model
	}
	if t.Steps == nil {
		return snap
	}

	gs := &GraphSnapshot{Start: t.Steps.Start(), Terminals: t.Steps.Terminals()}
	for _, s := range t.Steps.steps {
		ss := StepSnapshot{
			ID:           s.ID,
			Instruction:  s.Instruction,
			Hints:        s.Hints,
			MaxAttempts:  s.MaxAttempts,
			TimeoutMs:    s.Timeout.Milliseconds(),
			Satisfaction: "default",
		}
		if s.IsSatisfied != nil {
			ss.Satisfaction = describe("custom", s.SatisfiedDescription)
		}
		for _, p := range s.Preconditions {
			ps := PreconditionSnapshot{Type: p.Type, StepID: p.StepID}
			if p.Type == PreconditionCustom {
				ps.Description = describe("custom", p.Description)
			}
			ss.Preconditions = append(ss.Preconditions, ps)
		}
		gs.Steps = append(gs.Steps, ss)
	}
	snap.Graph = gs
	return snap
}

func describe(kind, description string) string {
	if description == "" {
		return kind
	}
	return kind + ": " + description
}

// ConversationRecord flattens traces into one exchange per turn.
func ConversationRecord(id string, traces []StepTrace) conversation.Record {
	rec := conversation.Record{ID: id, Exchanges: make([]conversation.Exchange, 0, len(traces))}
	for _, tr := range traces {
		if rec.CreatedAt.IsZero() || tr.Timestamp.Before(rec.CreatedAt) {
			rec.CreatedAt = tr.Timestamp
		}
		meta := map[string]string{
			"turn_index":       strconv.Itoa(tr.TurnIndex),
			"selection_method": string(tr.Selection.Method),
		}
		if tr.StepID != "" {
			meta["step_id"] = string(tr.StepID)
		}
		if tr.End != nil {
			meta["end_reason"] = string(tr.End.Reason)
		}
		rec.Exchanges = append(rec.Exchanges, conversation.Exchange{
			Index:    tr.TurnIndex,
			Input:    []conversation.Message{tr.UserMessage},
			Output:   append([]conversation.Message(nil), tr.AgentMessages...),
			Metadata: meta,
		})
	}
	return rec
}
