package trajectory

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
)

// StepID identifies a step within a graph.
type StepID string

// Persona guides the tone and behavior of the simulated user.
type Persona struct {
	// Name identifies this persona for logging
	Name string `json:"name,omitempty"`

	// Description is passed to the user model
	Description string `json:"description"`

	// Guardrails are behaviors the simulated user must respect
	Guardrails []string `json:"guardrails,omitempty"`
}

// PreconditionType discriminates Precondition variants.
type PreconditionType string

const (
	PreconditionStepSatisfied PreconditionType = "step_satisfied"
	PreconditionCustom        PreconditionType = "custom"
)

// EvalContext is the read-only view handed to custom predicates.
type EvalContext struct {
	History  []conversation.Message
	Snapshot StateSnapshot
	Step     StepDefinition

	// State is a copy of the step's runtime state. Zero when the step has
	// never been selected.
	State StepRuntimeState
}

// Predicate is a user-supplied check over history and runtime state.
type Predicate func(ctx context.Context, ec EvalContext) (bool, error)

// Precondition gates a step's eligibility.
type Precondition struct {
	Type PreconditionType

	// StepID is the referenced step for step_satisfied preconditions.
	StepID StepID

	// Evaluate is the predicate for custom preconditions.
	Evaluate Predicate

	// Description names a custom predicate in snapshots.
	Description string
}

// StepSatisfied requires another step to be satisfied.
func StepSatisfied(id StepID) Precondition {
	return Precondition{Type: PreconditionStepSatisfied, StepID: id}
}

// Custom wraps an arbitrary predicate.
func Custom(description string, fn Predicate) Precondition {
	return Precondition{Type: PreconditionCustom, Evaluate: fn, Description: description}
}

// StepDefinition is one declared milestone. Immutable once part of a graph.
type StepDefinition struct {
	ID            StepID
	Instruction   string
	Hints         []string
	Preconditions []Precondition

	// MaxAttempts marks the step failed once reached without satisfaction.
	// Zero means unlimited.
	MaxAttempts int

	// Timeout bounds a turn pursuing this step. Zero means no deadline.
	Timeout time.Duration

	// IsSatisfied overrides the default satisfaction heuristic.
	IsSatisfied Predicate

	// SatisfiedDescription names IsSatisfied in snapshots.
	SatisfiedDescription string
}

// StepStatus is the runtime status of a step.
type StepStatus string

const (
	StatusIdle       StepStatus = "idle"
	StatusInProgress StepStatus = "in_progress"
	StatusSatisfied  StepStatus = "satisfied"
	StatusBlocked    StepStatus = "blocked"
	StatusFailed     StepStatus = "failed"
	StatusSkipped    StepStatus = "skipped"
)

// Mode selects the step-selection strategy.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeLoose  Mode = "loose"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeStrict || m == ModeLoose
}

// LoopDetection thresholds. Zero and negative values take the defaults.
type LoopDetection struct {
	MaxConsecutiveSameStep int `json:"max_consecutive_same_step,omitempty"`
	MaxCycleLength         int `json:"max_cycle_length,omitempty"`
	MaxCycleRepetitions    int `json:"max_cycle_repetitions,omitempty"`
}

const (
	DefaultMaxConsecutiveSameStep = 3
	DefaultMaxCycleLength         = 3
	DefaultMaxCycleRepetitions    = 2
)

// WithDefaults fills zero fields with defaults.
func (l LoopDetection) WithDefaults() LoopDetection {
	if l.MaxConsecutiveSameStep <= 0 {
		l.MaxConsecutiveSameStep = DefaultMaxConsecutiveSameStep
	}
	if l.MaxCycleLength <= 0 {
		l.MaxCycleLength = DefaultMaxCycleLength
	}
	if l.MaxCycleRepetitions <= 0 {
		l.MaxCycleRepetitions = DefaultMaxCycleRepetitions
	}
	return l
}

// FallbackPolicy is the loose selector's behavior when ranking is inconclusive.
type FallbackPolicy string

const (
	FallbackSequential FallbackPolicy = "sequential"
	FallbackStay       FallbackPolicy = "stay"
)

// SelectorConfig tunes the loose selector. Nil thresholds and an empty
// fallback take the defaults; an explicit zero is kept.
type SelectorConfig struct {
	ScoreThreshold *float64       `json:"score_threshold,omitempty"`
	Margin         *float64       `json:"margin,omitempty"`
	Fallback       FallbackPolicy `json:"fallback,omitempty"`
}

const (
	DefaultScoreThreshold = 0.5
	DefaultMargin         = 0.1
)

// WithDefaults fills unset fields with defaults.
func (s SelectorConfig) WithDefaults() SelectorConfig {
	if s.ScoreThreshold == nil {
		s.ScoreThreshold = Float(DefaultScoreThreshold)
	}
	if s.Margin == nil {
		s.Margin = Float(DefaultMargin)
	}
	if s.Fallback == "" {
		s.Fallback = FallbackSequential
	}
	return s
}

// Threshold returns the minimum accepted confidence.
func (s SelectorConfig) Threshold() float64 {
	if s.ScoreThreshold == nil {
		return DefaultScoreThreshold
	}
	return *s.ScoreThreshold
}

// MinMargin returns the lead the top candidate needs over the runner-up.
func (s SelectorConfig) MinMargin() float64 {
	if s.Margin == nil {
		return DefaultMargin
	}
	return *s.Margin
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// UserModelKind discriminates UserModel variants.
type UserModelKind string

const (
	// UserModelClient carries a ready language model.
	UserModelClient UserModelKind = "client"

	// UserModelConfig carries provider settings resolved at run start.
	UserModelConfig UserModelKind = "config"
)

// ModelConfig describes a provider-backed language model.
type ModelConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	BaseURL     string  `json:"base_url,omitempty"`
	APIKey      string  `json:"-"`
	Temperature float64 `json:"temperature,omitempty"`
}

// UserModel is the language model driving the simulated user and the
// ranking call. Exactly one variant is populated, as named by Kind.
type UserModel struct {
	Kind   UserModelKind
	Model  llms.Model
	Config ModelConfig
}

// ClientModel returns a client-variant UserModel.
func ClientModel(m llms.Model) UserModel {
	return UserModel{Kind: UserModelClient, Model: m}
}

// ConfiguredModel returns a config-variant UserModel.
func ConfiguredModel(cfg ModelConfig) UserModel {
	return UserModel{Kind: UserModelConfig, Config: cfg}
}

// Validate reports ErrMissingUserModel when the populated variant is unusable.
func (u UserModel) Validate() error {
	switch u.Kind {
	case UserModelClient:
		if u.Model == nil {
			return ErrMissingUserModel
		}
	case UserModelConfig:
		if u.Config.Provider == "" || u.Config.Model == "" {
			return ErrMissingUserModel
		}
	default:
		return ErrMissingUserModel
	}
	return nil
}

// Trajectory is the full definition of a run. Read-only during a run.
type Trajectory struct {
	// ID keys persistence. Generated when empty.
	ID string

	Goal    string
	Persona Persona

	// Steps is optional. A nil graph runs without step selection.
	Steps *StepGraph

	Mode Mode

	// MaxTurns is optional; nil leaves only the safety ceiling.
	MaxTurns *int

	LoopDetection LoopDetection
	Selector      SelectorConfig
	UserModel     UserModel

	// WindowTurns bounds the history shown to the user model. Zero means 2.
	WindowTurns int
}

// DefaultWindowTurns is the generator's default history window.
const DefaultWindowTurns = 2

// Window returns the effective history window.
func (t *Trajectory) Window() int {
	if t.WindowTurns <= 0 {
		return DefaultWindowTurns
	}
	return t.WindowTurns
}

// idPattern restricts trajectory ids to tokens usable in file names,
// subjects and log fields.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// Validate checks run-start configuration.
func (t *Trajectory) Validate() error {
	if err := t.UserModel.Validate(); err != nil {
		return err
	}
	if t.ID != "" && !idPattern.MatchString(t.ID) {
		return fmt.Errorf("invalid trajectory id %q: use letters, digits, '-' or '_'", t.ID)
	}
	if t.Mode != "" && !t.Mode.Valid() {
		return fmt.Errorf("unknown mode %q", t.Mode)
	}
	if t.MaxTurns != nil && *t.MaxTurns < 0 {
		return fmt.Errorf("max turns must be non-negative, got %d", *t.MaxTurns)
	}
	switch t.Selector.Fallback {
	case "", FallbackSequential, FallbackStay:
	default:
		return fmt.Errorf("unknown fallback policy %q", t.Selector.Fallback)
	}
	return nil
}

// SelectionMethod records how a turn's step was chosen.
type SelectionMethod string

const (
	MethodNone       SelectionMethod = "none"
	MethodStrict     SelectionMethod = "strict"
	MethodRanked     SelectionMethod = "ranked"
	MethodSequential SelectionMethod = "fallback-sequential"
	MethodStay       SelectionMethod = "fallback-stay"
)

// Candidate is one ranked step.
type Candidate struct {
	StepID    StepID  `json:"step_id"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Selection is a selector's decision for one turn. Chosen is empty when no
// step is eligible.
type Selection struct {
	Chosen     StepID          `json:"chosen,omitempty"`
	Method     SelectionMethod `json:"method"`
	Candidates []Candidate     `json:"candidates,omitempty"`
	Rationale  string          `json:"rationale,omitempty"`
}

// StopReason is a successful termination reason.
type StopReason string

const (
	StopMaxTurns    StopReason = "max-turns"
	StopGoalReached StopReason = "goal-reached"
	StopAgentLoop   StopReason = "agent-loop"
)

// End is attached to the final trace of a run.
type End struct {
	IsFinal   bool       `json:"is_final"`
	Reason    StopReason `json:"reason"`
	Completed bool       `json:"completed"`
	Summary   string     `json:"summary,omitempty"`
}

// StepTrace is the durable record of one turn.
type StepTrace struct {
	TurnIndex     int                    `json:"turn_index"`
	UserMessage   conversation.Message   `json:"user_message"`
	AgentMessages []conversation.Message `json:"agent_messages"`
	Timestamp     time.Time              `json:"timestamp"`
	StepID        StepID                 `json:"step_id,omitempty"`
	Selection     Selection              `json:"selection"`
	End           *End                   `json:"end,omitempty"`
}

// Result is produced once at the end of a run.
type Result struct {
	TrajectoryID string             `json:"trajectory_id"`
	RunID        string             `json:"run_id"`
	Steps        []StepTrace        `json:"steps"`
	Completed    bool               `json:"completed"`
	Reason       StopReason         `json:"reason"`
	Summary      string             `json:"summary,omitempty"`
	StepStates   []StepRuntimeState `json:"step_states,omitempty"`
}
