package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/convsim/internal/definition"
	"github.com/fyrsmithlabs/convsim/internal/llm"
)

func newGraphCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "graph <document>",
		Short: "Render a document's step graph as Graphviz DOT",
		Long: `Render the step graph of a trajectory document. Edges point from a step to
the steps that require it. The start step is a double circle and terminal
steps are boxes; steps gated by expressions are dashed.

Examples:
  convsim graph refund.yaml | dot -Tsvg > refund.svg
  convsim graph -o refund.dot refund.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating %s: %w", output, err)
				}
				defer f.Close()
				out = f
			}
			return writeGraph(out, args[0])
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func writeGraph(out io.Writer, path string) error {
	doc, err := definition.Load(path)
	if err != nil {
		return err
	}
	if len(doc.Steps) == 0 {
		return fmt.Errorf("%s has no steps", path)
	}
	t, err := doc.Build(definition.Resolver{Model: llm.NewFakeModel()})
	if err != nil {
		return err
	}
	dot, err := definition.ToDOT(t.Steps)
	if err != nil {
		return fmt.Errorf("rendering graph: %w", err)
	}
	_, err = io.WriteString(out, dot)
	return err
}
