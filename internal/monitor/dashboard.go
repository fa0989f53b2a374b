// Package monitor renders a live terminal view of trajectory runs.
//
// Runs execute elsewhere; callers forward orchestrator progress into the
// bubbletea program with Program.Send(ProgressMsg{...}) and report each run's
// end with DoneMsg. FinishedMsg closes the view.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/convsim/internal/orchestrator"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	nameWidth       = 24
)

// Model is the bubbletea model of a set of runs.
type Model struct {
	runs     []RunState
	interval time.Duration
	started  time.Time
	elapsed  time.Duration

	// turns per interval, newest last
	history   []float64
	tickTurns int

	bar      progress.Model
	spin     spinner.Model
	quitting bool
	finished bool
}

// RunState is what the view knows about one run.
type RunState struct {
	Name         string
	TrajectoryID string
	Turns        int
	Step         trajectory.StepID
	Status       trajectory.StepStatus
	Method       trajectory.SelectionMethod
	End          *trajectory.End
	Err          error
	Done         bool
}

// Lipgloss styles
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a view over runs with the given display names. interval
// is the refresh period of the throughput sparkline.
func NewModel(names []string, interval time.Duration) Model {
	runs := make([]RunState, len(names))
	for i, n := range names {
		runs[i] = RunState{Name: n, Status: trajectory.StatusIdle}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return Model{
		runs:     runs,
		interval: interval,
		started:  time.Now(),
		history:  make([]float64, 0, historySize),
		bar: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
		spin: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

// ProgressMsg carries one orchestrator progress report for run Index.
type ProgressMsg struct {
	Index    int
	Progress orchestrator.Progress
}

// DoneMsg reports that run Index returned. Err is nil for runs that produced
// a result.
type DoneMsg struct {
	Index  int
	Result *trajectory.Result
	Err    error
}

// FinishedMsg reports that every run has returned.
type FinishedMsg struct{}

type tickMsg time.Time

// Init starts the refresh ticker and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), m.spin.Tick)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Runs returns a copy of the run states.
func (m Model) Runs() []RunState {
	out := make([]RunState, len(m.runs))
	copy(out, m.runs)
	return out
}

// Quitting reports whether the user asked to leave before the runs finished.
func (m Model) Quitting() bool {
	return m.quitting
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = !m.finished
			return m, tea.Quit
		}

	case tickMsg:
		m.history = appendToHistory(m.history, float64(m.tickTurns))
		m.tickTurns = 0
		m.elapsed = time.Time(msg).Sub(m.started)
		if m.finished {
			return m, nil
		}
		return m, tick(m.interval)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case ProgressMsg:
		if msg.Index < 0 || msg.Index >= len(m.runs) {
			return m, nil
		}
		r := m.runs[msg.Index]
		p := msg.Progress
		r.TrajectoryID = p.TrajectoryID
		if p.Stop != nil {
			end := *p.Stop
			r.End = &end
		} else {
			r.Turns = p.TurnIndex + 1
			r.Step = p.StepID
			r.Status = p.StepStatus
			r.Method = p.Method
			m.tickTurns++
		}
		m.runs[msg.Index] = r
		return m, nil

	case DoneMsg:
		if msg.Index < 0 || msg.Index >= len(m.runs) {
			return m, nil
		}
		r := m.runs[msg.Index]
		r.Done = true
		r.Err = msg.Err
		if msg.Result != nil {
			r.TrajectoryID = msg.Result.TrajectoryID
			r.Turns = len(msg.Result.Steps)
			if r.End == nil {
				r.End = &trajectory.End{
					IsFinal:   true,
					Reason:    msg.Result.Reason,
					Completed: msg.Result.Completed,
					Summary:   msg.Result.Summary,
				}
			}
		}
		m.runs[msg.Index] = r
		return m, nil

	case FinishedMsg:
		m.finished = true
		m.elapsed = time.Since(m.started)
		return m, tea.Quit
	}

	return m, nil
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// counts tallies finished, completed and failed runs.
func (m Model) counts() (done, completed, failed int) {
	for _, r := range m.runs {
		if !r.Done {
			continue
		}
		done++
		switch {
		case r.Err != nil:
			failed++
		case r.End != nil && r.End.Completed:
			completed++
		}
	}
	return done, completed, failed
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	done, completed, failed := m.counts()
	header := headerStyle.Render(" convsim runs ")
	headerLine := fmt.Sprintf("%s   %s %s   %s %s",
		statusBadge(done, len(m.runs), failed),
		dimStyle.Render("Elapsed:"),
		valueStyle.Render(FormatElapsed(m.elapsed)),
		dimStyle.Render("Turns:"),
		valueStyle.Render(fmt.Sprintf("%d", m.totalTurns())))
	b.WriteString(header + "\n" + headerLine + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Progress") + "\n")
	b.WriteString(labelStyle.Render("  Runs: ") +
		m.bar.ViewAs(ratio(done, len(m.runs))) + " " +
		dimStyle.Render(fmt.Sprintf("%d/%d", done, len(m.runs))) + "\n")
	b.WriteString(labelStyle.Render("  Completed: ") + valueStyle.Render(fmt.Sprintf("%d", completed)) +
		labelStyle.Render("  Failed: ") + valueStyle.Render(fmt.Sprintf("%d", failed)) + "\n")
	b.WriteString(labelStyle.Render("  Throughput: ") +
		valueStyle.Render(FormatRate(m.rate())) + "   " +
		createSparkline(m.history) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Trajectories") + "\n")
	for _, r := range m.runs {
		b.WriteString("  " + m.runLine(r) + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerStyle.Render(fmt.Sprintf("Refresh: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func (m Model) runLine(r RunState) string {
	name := fmt.Sprintf("%-*s", nameWidth, Truncate(r.Name, nameWidth))
	switch {
	case r.Err != nil:
		return errorStyle.Render("✗ ") + name + " " + errorStyle.Render(Truncate(r.Err.Error(), 60))
	case r.Done && r.End != nil && r.End.Completed:
		return healthyStyle.Render("✓ ") + name + " " +
			valueStyle.Render(string(r.End.Reason)) + dimStyle.Render(fmt.Sprintf("  %d turns", r.Turns))
	case r.Done && r.End != nil:
		return warningStyle.Render("⚠ ") + name + " " +
			valueStyle.Render(string(r.End.Reason)) + dimStyle.Render(fmt.Sprintf("  %d turns", r.Turns))
	case r.Turns == 0:
		return dimStyle.Render("· ") + name + " " + dimStyle.Render("waiting")
	}
	step := string(r.Step)
	if step == "" {
		step = "-"
	}
	return m.spin.View() + " " + name + " " +
		labelStyle.Render("turn ") + valueStyle.Render(fmt.Sprintf("%d", r.Turns)) +
		labelStyle.Render("  step ") + valueStyle.Render(step) +
		dimStyle.Render(fmt.Sprintf("  %s/%s", r.Status, r.Method))
}

func (m Model) totalTurns() int {
	n := 0
	for _, r := range m.runs {
		n += r.Turns
	}
	return n
}

// rate is turns per minute over the sparkline window.
func (m Model) rate() float64 {
	if len(m.history) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.history {
		sum += v
	}
	window := time.Duration(len(m.history)) * m.interval
	return sum / window.Minutes()
}

// statusBadge returns the overall badge for the set of runs.
func statusBadge(done, total, failed int) string {
	switch {
	case failed > 0:
		return errorStyle.Render(fmt.Sprintf("✗ %d FAILED", failed))
	case done == total:
		return healthyStyle.Render("✓ DONE")
	}
	return warningStyle.Render("● RUNNING")
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 1
	}
	return float64(n) / float64(total)
}
