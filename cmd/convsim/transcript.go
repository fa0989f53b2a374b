package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/convsim/internal/conversation"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

func newTranscriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <file.jsonl>...",
		Short: "Print conversations saved with run --transcript-dir",
		Long: `Print JSONL transcripts, one message per line, as a readable conversation.
Lines that do not parse are reported and skipped.

Examples:
  convsim run --transcript-dir out refund.yaml
  convsim transcript out/*.jsonl`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTranscripts(cmd.OutOrStdout(), args)
		},
	}
}

func printTranscripts(out io.Writer, paths []string) error {
	for _, p := range paths {
		res, err := conversation.ReadJSONLFile(p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		fmt.Fprintln(out, renderTranscript(p, res))
	}
	return nil
}

func renderTranscript(path string, res *conversation.ParseResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(path))
	fmt.Fprintf(&b, " %s\n", dimStyle.Render(fmt.Sprintf("(%d messages)", len(res.Messages))))
	for _, line := range strings.Split(conversation.FormatTranscript(res.Messages), "\n") {
		if line == "" {
			continue
		}
		if label, rest, ok := strings.Cut(line, ":"); ok && !strings.Contains(label, " ") {
			line = labelStyle.Render(label+":") + rest
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, e := range res.Errors {
		fmt.Fprintf(&b, "%s line %d: %s\n", warnStyle.Render("skipped"), e.Line, e.Error)
	}
	if extra := res.ErrorCount - len(res.Errors); extra > 0 {
		fmt.Fprintf(&b, "%s %d more unreadable lines\n", warnStyle.Render("skipped"), extra)
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// writeTranscripts saves the conversation of every run that recorded at
// least one turn, failed runs included, as <trajectory>-<run>.jsonl.
func writeTranscripts(dir string, outcomes []runOutcome) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating transcript dir: %w", err)
	}
	var written []string
	for i, o := range outcomes {
		traces, name := transcriptOf(o, i)
		if len(traces) == 0 {
			continue
		}
		path := filepath.Join(dir, name+".jsonl")
		if err := writeTranscript(path, name, traces); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func transcriptOf(o runOutcome, i int) ([]trajectory.StepTrace, string) {
	if o.result != nil {
		return o.result.Steps, o.result.TrajectoryID + "-" + o.result.RunID
	}
	if re, ok := asRunError(o.err); ok {
		base := strings.TrimSuffix(filepath.Base(o.path), filepath.Ext(o.path))
		return re.Traces, fmt.Sprintf("%s-failed-%d", base, i)
	}
	return nil, ""
}

func writeTranscript(path, id string, traces []trajectory.StepTrace) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating transcript: %w", err)
	}
	msgs := trajectory.ConversationRecord(id, traces).Messages()
	if err := conversation.WriteJSONL(f, msgs); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
