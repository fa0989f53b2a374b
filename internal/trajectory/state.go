package trajectory

import (
	"sort"
	"time"
)

// StepRuntimeState is the mutable per-step state of one run.
type StepRuntimeState struct {
	StepID        StepID     `json:"step_id"`
	Status        StepStatus `json:"status"`
	Attempts      int        `json:"attempts"`
	LastUpdatedAt time.Time  `json:"last_updated_at"`
}

// StateSnapshot is the read-only summary handed to predicates.
type StateSnapshot struct {
	Satisfied      map[StepID]bool
	AttemptsByStep map[StepID]int
}

// RuntimeStates holds the lazily created state of every attempted step.
// Owned by a single run; not safe for concurrent mutation.
type RuntimeStates map[StepID]*StepRuntimeState

// NewRuntimeStates returns an empty state map.
func NewRuntimeStates() RuntimeStates {
	return make(RuntimeStates)
}

// Status returns the status of id, idle when never attempted.
func (rs RuntimeStates) Status(id StepID) StepStatus {
	if s, ok := rs[id]; ok {
		return s.Status
	}
	return StatusIdle
}

// IsSatisfied reports whether id is satisfied.
func (rs RuntimeStates) IsSatisfied(id StepID) bool {
	return rs.Status(id) == StatusSatisfied
}

// Get returns the state for id, creating it idle on first access.
func (rs RuntimeStates) Get(id StepID, now time.Time) *StepRuntimeState {
	s, ok := rs[id]
	if !ok {
		s = &StepRuntimeState{StepID: id, Status: StatusIdle, LastUpdatedAt: now}
		rs[id] = s
	}
	return s
}

// Select transitions id to in_progress. Satisfied steps never regress.
func (rs RuntimeStates) Select(id StepID, now time.Time) *StepRuntimeState {
	s := rs.Get(id, now)
	if s.Status != StatusSatisfied {
		s.Status = StatusInProgress
		s.LastUpdatedAt = now
	}
	return s
}

// RecordAttempt counts one turn pursuing id and applies the satisfaction
// outcome. A step reaching maxAttempts unsatisfied becomes failed.
func (rs RuntimeStates) RecordAttempt(id StepID, satisfied bool, maxAttempts int, now time.Time) *StepRuntimeState {
	s := rs.Get(id, now)
	s.Attempts++
	s.LastUpdatedAt = now
	switch {
	case s.Status == StatusSatisfied:
	case satisfied:
		s.Status = StatusSatisfied
	case maxAttempts > 0 && s.Attempts >= maxAttempts:
		s.Status = StatusFailed
	}
	return s
}

// MarkBlocked flags previously attempted steps whose preconditions no longer
// hold, and clears the flag on steps that became eligible again.
func (rs RuntimeStates) MarkBlocked(eligible []StepDefinition, now time.Time) {
	ok := make(map[StepID]bool, len(eligible))
	for _, s := range eligible {
		ok[s.ID] = true
	}
	for id, s := range rs {
		switch {
		case s.Status == StatusInProgress && !ok[id], s.Status == StatusIdle && !ok[id]:
			s.Status = StatusBlocked
			s.LastUpdatedAt = now
		case s.Status == StatusBlocked && ok[id]:
			s.Status = StatusIdle
			s.LastUpdatedAt = now
		}
	}
}

// Snapshot summarizes satisfied steps and attempt counts.
func (rs RuntimeStates) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Satisfied:      make(map[StepID]bool, len(rs)),
		AttemptsByStep: make(map[StepID]int, len(rs)),
	}
	for id, s := range rs {
		if s.Status == StatusSatisfied {
			snap.Satisfied[id] = true
		}
		snap.AttemptsByStep[id] = s.Attempts
	}
	return snap
}

// List returns copies of all states sorted by step id.
func (rs RuntimeStates) List() []StepRuntimeState {
	out := make([]StepRuntimeState, 0, len(rs))
	for _, s := range rs {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out
}
