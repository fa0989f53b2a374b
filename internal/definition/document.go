// Package definition loads declarative trajectory documents and builds
// runnable trajectories from them.
//
// A document is YAML, JSON or TOML. Preconditions are either references to
// other steps (step_satisfied) or expr-lang expressions evaluated against the
// conversation; satisfied_when replaces the default satisfaction heuristic
// with an expression. See Env for the variables expressions can use.
//
//	id: refund-request
//	goal: Get a refund for a damaged order
//	persona:
//	  description: A polite but firm customer
//	mode: strict
//	max_turns: 8
//	start: order
//	terminals: [refund]
//	steps:
//	  - id: order
//	    instruction: Give the order number
//	  - id: refund
//	    instruction: Ask for a refund
//	    preconditions:
//	      - step: order
//	    satisfied_when: lower(last_agent) contains "refund"
package definition

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// maxDocumentSize bounds documents read from disk or request bodies.
const maxDocumentSize = 1024 * 1024

// ErrInvalidDocument is wrapped by every parse and validation failure.
var ErrInvalidDocument = errors.New("invalid trajectory document")

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatOf maps a file extension to a format.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: unsupported extension %q", ErrInvalidDocument, filepath.Ext(path))
}

// Document is the declarative form of a trajectory.
type Document struct {
	ID          string      `koanf:"id" json:"id,omitempty"`
	Goal        string      `koanf:"goal" json:"goal"`
	Persona     PersonaDoc  `koanf:"persona" json:"persona"`
	Mode        string      `koanf:"mode" json:"mode,omitempty"`
	MaxTurns    *int        `koanf:"max_turns" json:"max_turns,omitempty"`
	WindowTurns int         `koanf:"window_turns" json:"window_turns,omitempty"`
	Loop        LoopDoc     `koanf:"loop" json:"loop,omitempty"`
	Selector    SelectorDoc `koanf:"selector" json:"selector,omitempty"`
	UserModel   *ModelDoc   `koanf:"user_model" json:"user_model,omitempty"`
	Target      *TargetDoc  `koanf:"target" json:"target,omitempty"`
	Start       string      `koanf:"start" json:"start,omitempty"`
	Terminals   []string    `koanf:"terminals" json:"terminals,omitempty"`
	Steps       []StepDoc   `koanf:"steps" json:"steps,omitempty"`
}

type PersonaDoc struct {
	Name        string   `koanf:"name" json:"name,omitempty"`
	Description string   `koanf:"description" json:"description"`
	Guardrails  []string `koanf:"guardrails" json:"guardrails,omitempty"`
}

type LoopDoc struct {
	MaxConsecutiveSameStep int `koanf:"max_consecutive_same_step" json:"max_consecutive_same_step,omitempty"`
	MaxCycleLength         int `koanf:"max_cycle_length" json:"max_cycle_length,omitempty"`
	MaxCycleRepetitions    int `koanf:"max_cycle_repetitions" json:"max_cycle_repetitions,omitempty"`
}

type SelectorDoc struct {
	ScoreThreshold *float64 `koanf:"score_threshold" json:"score_threshold,omitempty"`
	Margin         *float64 `koanf:"margin" json:"margin,omitempty"`
	Fallback       string   `koanf:"fallback" json:"fallback,omitempty"`
}

// ModelDoc names a provider model. Keys are never stored in documents;
// APIKeyEnv names the environment variable holding one.
type ModelDoc struct {
	Provider    string  `koanf:"provider" json:"provider,omitempty"`
	Model       string  `koanf:"model" json:"model,omitempty"`
	BaseURL     string  `koanf:"base_url" json:"base_url,omitempty"`
	Temperature float64 `koanf:"temperature" json:"temperature,omitempty"`
	APIKeyEnv   string  `koanf:"api_key_env" json:"api_key_env,omitempty"`
}

// TargetDoc describes the agent under test.
type TargetDoc struct {
	Kind         string            `koanf:"kind" json:"kind"`
	URL          string            `koanf:"url" json:"url,omitempty"`
	Headers      map[string]string `koanf:"headers" json:"headers,omitempty"`
	Timeout      time.Duration     `koanf:"timeout" json:"timeout,omitempty"`
	Model        *ModelDoc         `koanf:"model" json:"model,omitempty"`
	SystemPrompt string            `koanf:"system_prompt" json:"system_prompt,omitempty"`
}

type StepDoc struct {
	ID            string            `koanf:"id" json:"id"`
	Instruction   string            `koanf:"instruction" json:"instruction"`
	Hints         []string          `koanf:"hints" json:"hints,omitempty"`
	MaxAttempts   int               `koanf:"max_attempts" json:"max_attempts,omitempty"`
	Timeout       time.Duration     `koanf:"timeout" json:"timeout,omitempty"`
	Preconditions []PreconditionDoc `koanf:"preconditions" json:"preconditions,omitempty"`
	SatisfiedWhen string            `koanf:"satisfied_when" json:"satisfied_when,omitempty"`
}

// PreconditionDoc is either {step: id} or {expr: "..."}. Type may be given
// explicitly as step_satisfied or expr.
type PreconditionDoc struct {
	Type string `koanf:"type" json:"type,omitempty"`
	Step string `koanf:"step" json:"step,omitempty"`
	Expr string `koanf:"expr" json:"expr,omitempty"`
}

const (
	preconditionStep = "step_satisfied"
	preconditionExpr = "expr"
)

// kind resolves the precondition's type, inferring it when omitted.
func (p PreconditionDoc) kind() string {
	if p.Type != "" {
		return p.Type
	}
	switch {
	case p.Step != "" && p.Expr == "":
		return preconditionStep
	case p.Expr != "" && p.Step == "":
		return preconditionExpr
	}
	return ""
}

// Load reads and validates the document at path.
func Load(path string) (*Document, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trajectory document: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading trajectory document: %w", err)
	}
	doc, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes and validates a document.
func Parse(data []byte, format Format) (*Document, error) {
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("%w: document exceeds %d bytes", ErrInvalidDocument, maxDocumentSize)
	}

	var parser koanf.Parser
	switch format {
	// JSON is a subset of YAML.
	case FormatYAML, FormatJSON:
		parser = yaml.Parser()
	case FormatTOML:
		parser = tomlParser{}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidDocument, format)
	}

	k := koanf.New("::")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	if err := checkShape(k.Raw()); err != nil {
		return nil, err
	}

	var doc Document
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks everything that can be checked without building the
// graph. Expressions are compiled so syntax errors surface here.
func (d *Document) Validate() error {
	var errs []error

	if strings.TrimSpace(d.Goal) == "" {
		errs = append(errs, errors.New("goal is required"))
	}
	if d.Mode != "" && !trajectory.Mode(d.Mode).Valid() {
		errs = append(errs, fmt.Errorf("mode must be strict or loose, got %q", d.Mode))
	}
	if d.MaxTurns != nil && *d.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("max_turns must be non-negative, got %d", *d.MaxTurns))
	}
	switch trajectory.FallbackPolicy(d.Selector.Fallback) {
	case "", trajectory.FallbackSequential, trajectory.FallbackStay:
	default:
		errs = append(errs, fmt.Errorf("selector.fallback must be sequential or stay, got %q", d.Selector.Fallback))
	}
	if s := d.Selector.ScoreThreshold; s != nil && (*s < 0 || *s > 1) {
		errs = append(errs, fmt.Errorf("selector.score_threshold must be between 0 and 1, got %v", *s))
	}
	if m := d.Selector.Margin; m != nil && (*m < 0 || *m > 1) {
		errs = append(errs, fmt.Errorf("selector.margin must be between 0 and 1, got %v", *m))
	}
	if d.Target != nil && d.Target.Kind == "" {
		errs = append(errs, errors.New("target.kind is required"))
	}
	if len(d.Steps) == 0 && (d.Start != "" || len(d.Terminals) > 0) {
		errs = append(errs, errors.New("start and terminals require steps"))
	}

	for i, s := range d.Steps {
		name := s.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("step %s: id is required", name))
		}
		if s.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("step %s: max_attempts must be non-negative", name))
		}
		for j, p := range s.Preconditions {
			switch p.kind() {
			case preconditionStep:
				if p.Step == "" {
					errs = append(errs, fmt.Errorf("step %s precondition %d: step is required", name, j))
				}
			case preconditionExpr:
				if _, err := defaultPrograms.Compile(p.Expr); err != nil {
					errs = append(errs, fmt.Errorf("step %s precondition %d: %w", name, j, err))
				}
			default:
				errs = append(errs, fmt.Errorf("step %s precondition %d: set exactly one of step or expr", name, j))
			}
		}
		if s.SatisfiedWhen != "" {
			if _, err := defaultPrograms.Compile(s.SatisfiedWhen); err != nil {
				errs = append(errs, fmt.Errorf("step %s satisfied_when: %w", name, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return nil
}
