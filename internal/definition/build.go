package definition

import (
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/convsim/internal/config"
	"github.com/fyrsmithlabs/convsim/internal/target"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// Resolver supplies what a document leaves to its environment.
type Resolver struct {
	// Model, when set, drives the simulated user of every document and
	// overrides user_model.
	Model llms.Model

	// DefaultModel fills user_model fields the document leaves empty.
	DefaultModel trajectory.ModelConfig

	// Run supplies defaults for run settings the document leaves unset.
	Run *config.RunConfig

	// Programs caches compiled expressions. Nil uses a package-level cache.
	Programs *Programs
}

// ResolverFromConfig returns a resolver backed by the application config.
func ResolverFromConfig(cfg *config.Config) Resolver {
	return Resolver{
		DefaultModel: trajectory.ModelConfig{
			Provider:    cfg.LLM.Provider,
			Model:       cfg.LLM.Model,
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey.Value(),
			Temperature: cfg.LLM.Temperature,
		},
		Run: &cfg.Run,
	}
}

// Build turns the document into a runnable trajectory. Graph integrity
// errors are reported as ErrInvalidDocument wrapping the *trajectory.GraphError.
func (d *Document) Build(r Resolver) (*trajectory.Trajectory, error) {
	programs := r.Programs
	if programs == nil {
		programs = defaultPrograms
	}

	t := &trajectory.Trajectory{
		ID:   d.ID,
		Goal: d.Goal,
		Persona: trajectory.Persona{
			Name:        d.Persona.Name,
			Description: d.Persona.Description,
			Guardrails:  d.Persona.Guardrails,
		},
		Mode:     trajectory.Mode(d.Mode),
		MaxTurns: d.MaxTurns,
		LoopDetection: trajectory.LoopDetection{
			MaxConsecutiveSameStep: d.Loop.MaxConsecutiveSameStep,
			MaxCycleLength:         d.Loop.MaxCycleLength,
			MaxCycleRepetitions:    d.Loop.MaxCycleRepetitions,
		},
		Selector: trajectory.SelectorConfig{
			ScoreThreshold: copyFloat(d.Selector.ScoreThreshold),
			Margin:         copyFloat(d.Selector.Margin),
			Fallback:       trajectory.FallbackPolicy(d.Selector.Fallback),
		},
		WindowTurns: d.WindowTurns,
	}
	applyRunDefaults(t, r.Run)

	if r.Model != nil {
		t.UserModel = trajectory.ClientModel(r.Model)
	} else {
		t.UserModel = trajectory.ConfiguredModel(modelConfig(d.UserModel, r.DefaultModel))
	}

	if len(d.Steps) > 0 {
		g, err := d.graph(programs)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}
		t.Steps = g
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return t, nil
}

func (d *Document) graph(programs *Programs) (*trajectory.StepGraph, error) {
	steps := make([]trajectory.StepDefinition, 0, len(d.Steps))
	for _, s := range d.Steps {
		def := trajectory.StepDefinition{
			ID:          trajectory.StepID(s.ID),
			Instruction: s.Instruction,
			Hints:       s.Hints,
			MaxAttempts: s.MaxAttempts,
			Timeout:     s.Timeout,
		}
		for _, p := range s.Preconditions {
			switch p.kind() {
			case preconditionStep:
				def.Preconditions = append(def.Preconditions, trajectory.StepSatisfied(trajectory.StepID(p.Step)))
			case preconditionExpr:
				fn, err := programs.Predicate(p.Expr)
				if err != nil {
					return nil, fmt.Errorf("step %s: %w", s.ID, err)
				}
				def.Preconditions = append(def.Preconditions, trajectory.Custom("expr: "+p.Expr, fn))
			default:
				return nil, fmt.Errorf("step %s: unknown precondition type %q", s.ID, p.Type)
			}
		}
		if s.SatisfiedWhen != "" {
			fn, err := programs.Predicate(s.SatisfiedWhen)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", s.ID, err)
			}
			def.IsSatisfied = fn
			def.SatisfiedDescription = "expr: " + s.SatisfiedWhen
		}
		steps = append(steps, def)
	}

	start := d.Start
	if start == "" {
		start = d.Steps[0].ID
	}
	terminals := make([]trajectory.StepID, len(d.Terminals))
	for i, id := range d.Terminals {
		terminals[i] = trajectory.StepID(id)
	}
	return trajectory.NewStepGraph(steps, trajectory.StepID(start), terminals...)
}

func applyRunDefaults(t *trajectory.Trajectory, run *config.RunConfig) {
	if run == nil {
		return
	}
	if t.Mode == "" {
		t.Mode = trajectory.Mode(run.Mode)
	}
	if t.MaxTurns == nil && run.MaxTurns > 0 {
		n := run.MaxTurns
		t.MaxTurns = &n
	}
	if t.WindowTurns == 0 {
		t.WindowTurns = run.WindowTurns
	}
	if t.LoopDetection.MaxConsecutiveSameStep == 0 {
		t.LoopDetection.MaxConsecutiveSameStep = run.LoopDetection.MaxConsecutiveSameStep
	}
	if t.LoopDetection.MaxCycleLength == 0 {
		t.LoopDetection.MaxCycleLength = run.LoopDetection.MaxCycleLength
	}
	if t.LoopDetection.MaxCycleRepetitions == 0 {
		t.LoopDetection.MaxCycleRepetitions = run.LoopDetection.MaxCycleRepetitions
	}
	if t.Selector.ScoreThreshold == nil {
		t.Selector.ScoreThreshold = copyFloat(run.Selector.ScoreThreshold)
	}
	if t.Selector.Margin == nil {
		t.Selector.Margin = copyFloat(run.Selector.Margin)
	}
	if t.Selector.Fallback == "" {
		t.Selector.Fallback = trajectory.FallbackPolicy(run.Selector.Fallback)
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return trajectory.Float(*v)
}

// modelConfig merges a document model over defaults. The API key comes from
// APIKeyEnv when set, otherwise from the defaults when the provider matches.
func modelConfig(doc *ModelDoc, def trajectory.ModelConfig) trajectory.ModelConfig {
	if doc == nil {
		return def
	}
	cfg := trajectory.ModelConfig{
		Provider:    doc.Provider,
		Model:       doc.Model,
		BaseURL:     doc.BaseURL,
		Temperature: doc.Temperature,
	}
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if cfg.Model == "" && cfg.Provider == def.Provider {
		cfg.Model = def.Model
	}
	if cfg.BaseURL == "" && cfg.Provider == def.Provider {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = def.Temperature
	}
	switch {
	case doc.APIKeyEnv != "":
		cfg.APIKey = os.Getenv(doc.APIKeyEnv)
	case cfg.Provider == def.Provider:
		cfg.APIKey = def.APIKey
	}
	return cfg
}

// TargetSpec returns the document's agent under test. ok is false when the
// document names none.
func (d *Document) TargetSpec(def trajectory.ModelConfig) (spec target.Spec, ok bool) {
	if d.Target == nil {
		return target.Spec{}, false
	}
	return target.Spec{
		Kind:         target.Kind(d.Target.Kind),
		URL:          d.Target.URL,
		Headers:      d.Target.Headers,
		Timeout:      d.Target.Timeout,
		Model:        modelConfig(d.Target.Model, def),
		SystemPrompt: d.Target.SystemPrompt,
	}, true
}
