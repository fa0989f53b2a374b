package trajectory

import (
	"fmt"
	"strings"
)

// LoopDecision is the loop detector's verdict.
type LoopDecision struct {
	ShouldStop bool
	Reason     StopReason
	Summary    string

	// Pattern is the repeating block, or the repeated id for consecutive loops.
	Pattern []StepID
}

// DetectLoop inspects the chosen step ids of a run, oldest first. Empty ids
// (turns without a selection) are ignored. It keeps no state between calls.
func DetectLoop(ids []StepID, cfg LoopDetection) LoopDecision {
	cfg = cfg.WithDefaults()

	seq := make([]StepID, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			seq = append(seq, id)
		}
	}
	if len(seq) == 0 {
		return LoopDecision{}
	}

	last := seq[len(seq)-1]
	run := 0
	for i := len(seq) - 1; i >= 0 && seq[i] == last; i-- {
		run++
	}
	if run >= cfg.MaxConsecutiveSameStep {
		return LoopDecision{
			ShouldStop: true,
			Reason:     StopAgentLoop,
			Summary:    fmt.Sprintf("step %q selected %d times in a row", last, run),
			Pattern:    []StepID{last},
		}
	}

	blocks := cfg.MaxCycleRepetitions + 1
	for length := 2; length <= cfg.MaxCycleLength; length++ {
		window := length * blocks
		if len(seq) < window {
			break
		}
		tail := seq[len(seq)-window:]
		pattern := tail[:length]
		if !distinct(pattern) || !repeats(tail, pattern) {
			continue
		}
		return LoopDecision{
			ShouldStop: true,
			Reason:     StopAgentLoop,
			Summary:    fmt.Sprintf("cycle [%s] repeated %d times", joinIDs(pattern), blocks),
			Pattern:    append([]StepID(nil), pattern...),
		}
	}
	return LoopDecision{}
}

// distinct reports whether the block holds more than one id. Single-id blocks
// are consecutive repeats and belong to the other check.
func distinct(block []StepID) bool {
	for _, id := range block[1:] {
		if id != block[0] {
			return true
		}
	}
	return false
}

func repeats(tail, pattern []StepID) bool {
	for i, id := range tail {
		if id != pattern[i%len(pattern)] {
			return false
		}
	}
	return true
}

func joinIDs(ids []StepID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}
