package definition

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// DefaultCacheSize is the number of compiled expressions kept by the
// package-level cache.
const DefaultCacheSize = 512

// Env is the variable set visible to precondition and satisfied_when
// expressions.
type Env struct {
	// History holds the text of every message so far.
	History []string `expr:"history"`

	LastUser  string `expr:"last_user"`
	LastAgent string `expr:"last_agent"`

	// Satisfied and Attempts are keyed by step id.
	Satisfied map[string]bool `expr:"satisfied"`
	Attempts  map[string]int  `expr:"attempts"`

	// Turn counts user messages so far.
	Turn int `expr:"turn"`

	// Step is the id of the step being evaluated.
	Step string `expr:"step"`
}

// NewEnv builds the expression environment for a predicate call.
func NewEnv(ec trajectory.EvalContext) Env {
	env := Env{
		History:   conversation.Texts(ec.History),
		LastUser:  conversation.LastText(ec.History, conversation.RoleUser),
		LastAgent: conversation.LastText(ec.History, conversation.RoleAssistant),
		Satisfied: make(map[string]bool, len(ec.Snapshot.Satisfied)),
		Attempts:  make(map[string]int, len(ec.Snapshot.AttemptsByStep)),
		Step:      string(ec.Step.ID),
	}
	for id, ok := range ec.Snapshot.Satisfied {
		env.Satisfied[string(id)] = ok
	}
	for id, n := range ec.Snapshot.AttemptsByStep {
		env.Attempts[string(id)] = n
	}
	for _, m := range ec.History {
		if m.Role == conversation.RoleUser {
			env.Turn++
		}
	}
	return env
}

// Programs compiles boolean expressions against Env and caches the result.
// Safe for concurrent use.
type Programs struct {
	cache *lru.Cache[string, *vm.Program]
}

var defaultPrograms = mustPrograms(DefaultCacheSize)

func mustPrograms(size int) *Programs {
	p, err := NewPrograms(size)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPrograms creates a cache holding up to size compiled programs.
func NewPrograms(size int) (*Programs, error) {
	cache, err := lru.New[string, *vm.Program](size)
	if err != nil {
		return nil, fmt.Errorf("creating expression cache: %w", err)
	}
	return &Programs{cache: cache}, nil
}

// Compile returns the compiled program for src.
func (p *Programs) Compile(src string) (*vm.Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if prog, ok := p.cache.Get(src); ok {
		return prog, nil
	}

	prog, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", src, err)
	}
	p.cache.Add(src, prog)
	return prog, nil
}

// Len returns the number of cached programs.
func (p *Programs) Len() int {
	return p.cache.Len()
}

// Predicate compiles src into a trajectory predicate.
func (p *Programs) Predicate(src string) (trajectory.Predicate, error) {
	prog, err := p.Compile(src)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, ec trajectory.EvalContext) (bool, error) {
		out, err := expr.Run(prog, NewEnv(ec))
		if err != nil {
			return false, fmt.Errorf("evaluating %q: %w", src, err)
		}
		b, ok := out.(bool)
		if !ok {
			return false, fmt.Errorf("expression %q returned %T, want bool", src, out)
		}
		return b, nil
	}, nil
}
