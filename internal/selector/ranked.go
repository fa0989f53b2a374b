package selector

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// MaxCandidates is the most candidates a ranking may contribute.
const MaxCandidates = 3

// marginEpsilon absorbs float error when the margin equals the threshold.
const marginEpsilon = 1e-9

// StepDescriptor is the ranking view of an eligible step.
type StepDescriptor struct {
	ID          trajectory.StepID `json:"id"`
	Instruction string            `json:"instruction"`
	Hints       []string          `json:"hints,omitempty"`
}

// RankRequest asks a ranker to score Steps against the latest agent reply.
type RankRequest struct {
	Goal          string
	LastAssistant string
	Steps         []StepDescriptor
}

// RankedCandidate scores Steps[StepIndex] of the request.
type RankedCandidate struct {
	StepIndex  int     `json:"stepIndex"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// RankResponse is a ranker's answer. BestIndex may be nil when the ranker
// has no preference.
type RankResponse struct {
	Candidates []RankedCandidate `json:"candidates"`
	BestIndex  *int              `json:"bestIndex"`
	Rationale  string            `json:"rationale"`
}

// Ranker scores eligible steps. Implemented by the LLM client.
type Ranker interface {
	Rank(ctx context.Context, req RankRequest) (*RankResponse, error)
}

// Ranked is the loose selector.
type Ranked struct {
	ranker Ranker
	cfg    trajectory.SelectorConfig
	logger *zap.Logger
}

// NewRanked creates a ranked selector. Unset config fields take defaults.
func NewRanked(ranker Ranker, cfg trajectory.SelectorConfig, logger *zap.Logger) *Ranked {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranked{ranker: ranker, cfg: cfg.WithDefaults(), logger: logger}
}

// Select implements Selector. Ranking failures never surface as errors; they
// route to the fallback policy.
func (r *Ranked) Select(ctx context.Context, in Input) (Selection, error) {
	if len(in.Eligible) == 0 {
		return Selection{Method: trajectory.MethodNone}, nil
	}

	candidates, rationale, err := r.rank(ctx, in)
	if err != nil {
		r.logger.Warn("ranking failed, using fallback",
			zap.String("fallback", string(r.cfg.Fallback)),
			zap.Error(err))
		sel := Fallback(r.cfg.Fallback, in)
		sel.Rationale = err.Error()
		return sel, nil
	}

	top := candidates[0]
	second := 0.0
	if len(candidates) > 1 {
		second = candidates[1].Score
	}

	if top.Score >= r.cfg.Threshold() && top.Score-second+marginEpsilon >= r.cfg.MinMargin() {
		return Selection{
			Chosen:     top.StepID,
			Method:     trajectory.MethodRanked,
			Candidates: candidates,
			Rationale:  rationale,
		}, nil
	}

	r.logger.Debug("ranking inconclusive, using fallback",
		zap.String("top", string(top.StepID)),
		zap.Float64("top_score", top.Score),
		zap.Float64("second_score", second))

	sel := Fallback(r.cfg.Fallback, in)
	sel.Candidates = candidates
	sel.Rationale = fmt.Sprintf("top candidate %s scored %.2f with margin %.2f", top.StepID, top.Score, top.Score-second)
	return sel, nil
}

// rank calls the ranker and normalizes its answer into at most MaxCandidates
// eligible candidates sorted by descending score.
func (r *Ranked) rank(ctx context.Context, in Input) ([]trajectory.Candidate, string, error) {
	descriptors := make([]StepDescriptor, len(in.Eligible))
	for i, s := range in.Eligible {
		descriptors[i] = StepDescriptor{ID: s.ID, Instruction: s.Instruction, Hints: s.Hints}
	}

	resp, err := r.ranker.Rank(ctx, RankRequest{
		Goal:          in.Goal,
		LastAssistant: conversation.LastText(in.History, conversation.RoleAssistant),
		Steps:         descriptors,
	})
	if err != nil {
		return nil, "", fmt.Errorf("ranking steps: %w", err)
	}
	if resp == nil {
		return nil, "", ErrNoCandidates
	}

	seen := make(map[trajectory.StepID]bool)
	var out []trajectory.Candidate
	for _, c := range resp.Candidates {
		if c.StepIndex < 0 || c.StepIndex >= len(descriptors) {
			r.logger.Debug("discarding out-of-range candidate", zap.Int("step_index", c.StepIndex))
			continue
		}
		id := descriptors[c.StepIndex].ID
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, trajectory.Candidate{StepID: id, Score: clamp(c.Confidence), Reasoning: c.Reasoning})
	}
	if len(out) == 0 {
		return nil, "", ErrNoCandidates
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out, resp.Rationale, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
