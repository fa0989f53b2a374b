package trajectory

// SafetyCeiling is the hard turn limit applied regardless of MaxTurns.
const SafetyCeiling = 30

// PolicyInput is the per-turn state the policy inspects.
type PolicyInput struct {
	TurnIndex int
	MaxTurns  *int
	Graph     *StepGraph

	// CurrentStep is the most recently satisfied pursued step.
	CurrentStep StepID
}

// PolicyDecision is the continue/stop verdict.
type PolicyDecision struct {
	Stop      bool
	Reason    StopReason
	Completed bool
	Summary   string
}

// Policy decides whether a run continues.
type Policy struct {
	// Ceiling overrides SafetyCeiling when positive.
	Ceiling int
}

// Limit returns the effective turn limit for maxTurns.
func (p Policy) Limit(maxTurns *int) int {
	ceiling := p.Ceiling
	if ceiling <= 0 {
		ceiling = SafetyCeiling
	}
	if maxTurns == nil || *maxTurns > ceiling {
		return ceiling
	}
	return *maxTurns
}

// Evaluate checks, in order: the turn limit, an empty graph (never stops
// here), and a terminal current step once at least one turn has run.
func (p Policy) Evaluate(in PolicyInput) PolicyDecision {
	if in.TurnIndex >= p.Limit(in.MaxTurns) {
		return PolicyDecision{Stop: true, Reason: StopMaxTurns, Summary: "turn limit reached"}
	}
	if in.Graph.Len() == 0 {
		return PolicyDecision{}
	}
	if in.TurnIndex > 0 && in.CurrentStep != "" && in.Graph.IsTerminal(in.CurrentStep) {
		return PolicyDecision{
			Stop:      true,
			Reason:    StopGoalReached,
			Completed: true,
			Summary:   "terminal step " + string(in.CurrentStep) + " satisfied",
		}
	}
	return PolicyDecision{}
}
