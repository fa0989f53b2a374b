package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/convsim/internal/orchestrator"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
	"github.com/fyrsmithlabs/convsim/internal/workflows"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

func asRunError(err error) (*orchestrator.RunError, bool) {
	var re *orchestrator.RunError
	ok := errors.As(err, &re)
	return re, ok
}

// renderOutcome draws one run as a bordered block.
func renderOutcome(o runOutcome) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(o.path))
	b.WriteString("\n")

	if o.err != nil {
		b.WriteString(errorStyle.Render("FAILED"))
		b.WriteString(" ")
		b.WriteString(o.err.Error())
		if re, ok := asRunError(o.err); ok {
			b.WriteString("\n")
			b.WriteString(renderTurns(re.Traces))
		}
		return boxStyle.Render(b.String())
	}

	r := o.result
	status := warnStyle.Render(string(r.Reason))
	if r.Completed {
		status = okStyle.Render(string(r.Reason))
	}
	fmt.Fprintf(&b, "%s %s", labelStyle.Render("stop:"), status)
	if r.Summary != "" {
		fmt.Fprintf(&b, " %s", dimStyle.Render("("+r.Summary+")"))
	}
	fmt.Fprintf(&b, "\n%s %d  %s %s\n", labelStyle.Render("turns:"), len(r.Steps), labelStyle.Render("run:"), dimStyle.Render(r.RunID))
	b.WriteString(renderTurns(r.Steps))
	if len(r.StepStates) > 0 {
		b.WriteString("\n")
		b.WriteString(renderStates(r.StepStates))
	}
	return boxStyle.Render(b.String())
}

// renderTurns lists each turn's step and the start of its user message.
func renderTurns(traces []trajectory.StepTrace) string {
	lines := make([]string, 0, len(traces))
	for _, t := range traces {
		step := string(t.StepID)
		if step == "" {
			step = "-"
		}
		lines = append(lines, fmt.Sprintf("%3d %-16s %s %s",
			t.TurnIndex,
			step,
			dimStyle.Render(string(t.Selection.Method)),
			clip(t.UserMessage.Text(), 60),
		))
	}
	return strings.Join(lines, "\n")
}

func renderStates(states []trajectory.StepRuntimeState) string {
	parts := make([]string, 0, len(states))
	for _, s := range states {
		style := dimStyle
		switch s.Status {
		case trajectory.StatusSatisfied:
			style = okStyle
		case trajectory.StatusFailed:
			style = errorStyle
		case trajectory.StatusBlocked, trajectory.StatusInProgress:
			style = warnStyle
		}
		parts = append(parts, fmt.Sprintf("%s=%s", s.StepID, style.Render(string(s.Status))))
	}
	return labelStyle.Render("steps:") + " " + strings.Join(parts, " ")
}

// renderProgress is the one-line form printed by --verbose.
func renderProgress(path string, p orchestrator.Progress) string {
	if p.Stop != nil {
		return fmt.Sprintf("%s %s stopped after %d turns: %s", dimStyle.Render(path), labelStyle.Render(p.RunID), p.TurnIndex, p.Stop.Reason)
	}
	return fmt.Sprintf("%s turn %d step=%s method=%s status=%s", dimStyle.Render(path), p.TurnIndex, p.StepID, p.Method, p.StepStatus)
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// renderBatch summarises a batch workflow result.
func renderBatch(r *workflows.BatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d  %s %d  %s %d\n",
		labelStyle.Render("runs:"), len(r.Runs),
		labelStyle.Render("completed:"), r.Completed,
		labelStyle.Render("failed:"), r.Failed)

	reasons := make([]string, 0, len(r.Reasons))
	for reason := range r.Reasons {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(&b, "  %-14s %d\n", reason, r.Reasons[reason])
	}
	for _, s := range r.Runs {
		if s.Error != "" {
			fmt.Fprintf(&b, "%s %s %s\n", errorStyle.Render("FAILED"), s.Name, dimStyle.Render(s.Error))
		}
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
