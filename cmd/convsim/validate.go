package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/convsim/internal/definition"
	"github.com/fyrsmithlabs/convsim/internal/llm"
)

func newValidateCmd() *cobra.Command {
	var build bool
	cmd := &cobra.Command{
		Use:   "validate <document>...",
		Short: "Check trajectory documents without running them",
		Long: `Parse every document, compile its expressions and check its step graph.
All problems in a document are listed, not just the first.

Examples:
  convsim validate trajectories/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateDocuments(cmd.OutOrStdout(), args, build)
		},
	}
	cmd.Flags().BoolVar(&build, "build", true, "also build the step graph")
	return cmd
}

func validateDocuments(out io.Writer, paths []string, build bool) error {
	// Building never calls the model.
	resolver := definition.Resolver{Model: llm.NewFakeModel()}

	invalid := 0
	for _, p := range paths {
		doc, err := definition.Load(p)
		if err == nil && build {
			_, err = doc.Build(resolver)
		}
		if err != nil {
			invalid++
			fmt.Fprintf(out, "%s %s\n%s\n", errorStyle.Render("INVALID"), p, indent(err.Error()))
			continue
		}
		fmt.Fprintf(out, "%s %s (%d steps)\n", okStyle.Render("OK"), p, len(doc.Steps))
	}
	if invalid > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d of %d documents invalid", invalid, len(paths))}
	}
	return nil
}

func indent(s string) string {
	return "  " + dimStyle.Render(s)
}
