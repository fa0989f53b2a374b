package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/convsim/internal/definition"
	"github.com/fyrsmithlabs/convsim/internal/monitor"
	"github.com/fyrsmithlabs/convsim/internal/orchestrator"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

type runOptions struct {
	jsonOut        bool
	verbose        bool
	concurrency    int
	maxTurns       int
	targetURL      string
	failIncomplete bool
	tui            bool
	transcriptDir  string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <document>...",
		Short: "Run trajectory documents against the agent under test",
		Long: `Run one or more trajectory documents (YAML, JSON or TOML) and print how
each conversation ended.

Examples:
  # Run against the agent configured in config.yaml
  convsim run refund.yaml

  # Point every document without a target at a local agent
  convsim run --target-url http://localhost:8080/chat trajectories/*.yaml

  # Machine-readable results; exit 2 unless every run reached its goal
  convsim run --json --fail-incomplete refund.yaml

  # Watch a batch in a live dashboard
  convsim run --tui --concurrency 8 trajectories/*.yaml

  # Keep each conversation as JSONL for "convsim transcript"
  convsim run --transcript-dir out refund.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocuments(cmd.Context(), cmd.OutOrStdout(), args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON lines")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "print a line per turn")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "documents run in parallel (default run.concurrency)")
	cmd.Flags().IntVar(&opts.maxTurns, "max-turns", 0, "override max_turns for every document")
	cmd.Flags().StringVar(&opts.targetURL, "target-url", "", "http agent for documents without a target")
	cmd.Flags().BoolVar(&opts.failIncomplete, "fail-incomplete", false, "exit 2 when a run does not reach a terminal step")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show a live dashboard on stderr while the runs execute")
	cmd.Flags().StringVar(&opts.transcriptDir, "transcript-dir", "", "write each conversation to <dir>/<trajectory>-<run>.jsonl")
	return cmd
}

// runOutcome pairs a document with its result or error.
type runOutcome struct {
	path   string
	result *trajectory.Result
	err    error
}

func runDocuments(ctx context.Context, out io.Writer, paths []string, opts *runOptions) error {
	if opts.targetURL != "" {
		// Flags win over the environment and the config file.
		_ = os.Setenv("CONVSIM_TARGET_KIND", "http")
		_ = os.Setenv("CONVSIM_TARGET_URL", opts.targetURL)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	docs := make([]*definition.Document, len(paths))
	for i, p := range paths {
		doc, err := definition.Load(p)
		if err != nil {
			return err
		}
		if opts.maxTurns > 0 {
			n := opts.maxTurns
			doc.MaxTurns = &n
		}
		docs[i] = doc
	}

	limit := opts.concurrency
	if limit <= 0 {
		limit = a.cfg.Run.Concurrency
	}

	var outcomes []runOutcome
	if opts.tui {
		outcomes, err = runWithMonitor(ctx, a, docs, paths, limit)
		if err != nil {
			return err
		}
	} else {
		var mu sync.Mutex
		progressFor := func(i int) orchestrator.ProgressCallback {
			if !opts.verbose || opts.jsonOut {
				return nil
			}
			return func(p orchestrator.Progress) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintln(out, renderProgress(paths[i], p))
			}
		}
		outcomes = runAll(ctx, a, docs, paths, limit, progressFor, nil)
	}

	if opts.transcriptDir != "" {
		written, err := writeTranscripts(opts.transcriptDir, outcomes)
		if err != nil {
			return err
		}
		a.logger.Info(ctx, "transcripts written", zap.String("dir", opts.transcriptDir), zap.Int("count", len(written)))
	}

	failed, incomplete := 0, 0
	enc := json.NewEncoder(out)
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			failed++
		case !o.result.Completed:
			incomplete++
		}
		if opts.jsonOut {
			if err := enc.Encode(jsonOutcome(o)); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintln(out, renderOutcome(o))
	}

	switch {
	case failed > 0:
		return &exitError{code: 1, err: fmt.Errorf("%d of %d runs failed", failed, len(outcomes))}
	case opts.failIncomplete && incomplete > 0:
		return &exitError{code: 2, err: fmt.Errorf("%d of %d runs did not reach a terminal step", incomplete, len(outcomes))}
	}
	return nil
}

// runAll runs docs with at most limit in flight. progressFor and done may be
// nil. Run failures are reported per document.
func runAll(
	ctx context.Context,
	a *app,
	docs []*definition.Document,
	paths []string,
	limit int,
	progressFor func(i int) orchestrator.ProgressCallback,
	done func(i int, o runOutcome),
) []runOutcome {
	outcomes := make([]runOutcome, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, doc := range docs {
		g.Go(func() error {
			var progress orchestrator.ProgressCallback
			if progressFor != nil {
				progress = progressFor(i)
			}
			res, err := a.registry.RunDocument(gctx, doc, progress)
			if err != nil {
				a.logger.Error(gctx, "trajectory run failed", zap.String("document", paths[i]), zap.Error(err))
			}
			outcomes[i] = runOutcome{path: paths[i], result: res, err: err}
			if done != nil {
				done(i, outcomes[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// runWithMonitor executes docs behind the live dashboard. Quitting the
// dashboard cancels the runs still in flight.
func runWithMonitor(ctx context.Context, a *app, docs []*definition.Document, paths []string, limit int) ([]runOutcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	prog := tea.NewProgram(monitor.NewModel(names, time.Second),
		tea.WithContext(ctx),
		tea.WithOutput(os.Stderr))

	var outcomes []runOutcome
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		outcomes = runAll(ctx, a, docs, paths, limit,
			func(i int) orchestrator.ProgressCallback {
				return func(p orchestrator.Progress) {
					prog.Send(monitor.ProgressMsg{Index: i, Progress: p})
				}
			},
			func(i int, o runOutcome) {
				prog.Send(monitor.DoneMsg{Index: i, Result: o.result, Err: o.err})
			})
		prog.Send(monitor.FinishedMsg{})
	}()

	_, err := prog.Run()
	cancel()
	<-finished
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return nil, fmt.Errorf("running dashboard: %w", err)
	}
	return outcomes, nil
}

type outcomeJSON struct {
	Document string             `json:"document"`
	Result   *trajectory.Result `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
	Phase    orchestrator.Phase `json:"phase,omitempty"`
}

func jsonOutcome(o runOutcome) outcomeJSON {
	j := outcomeJSON{Document: o.path, Result: o.result}
	if o.err != nil {
		j.Error = o.err.Error()
		if re, ok := asRunError(o.err); ok {
			j.Phase = re.Phase
		}
	}
	return j
}
