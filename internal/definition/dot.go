package definition

import (
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"

	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

const graphName = "trajectory"

// ToDOT renders a step graph in Graphviz DOT. Each step_satisfied
// precondition is an edge from the required step. The start step is a
// double circle, terminals are boxes, and steps gated by custom predicates
// are dashed with the predicates in the tooltip.
func ToDOT(g *trajectory.StepGraph) (string, error) {
	out := gographviz.NewGraph()
	if err := out.SetName(graphName); err != nil {
		return "", err
	}
	if err := out.SetDir(true); err != nil {
		return "", err
	}
	if err := out.AddAttr(graphName, "rankdir", "LR"); err != nil {
		return "", err
	}

	for _, s := range g.Steps() {
		attrs := map[string]string{
			"label": strconv.Quote(string(s.ID) + "\n" + truncate(s.Instruction, 40)),
			"shape": "ellipse",
		}
		switch {
		case s.ID == g.Start() && g.IsTerminal(s.ID):
			attrs["shape"] = "box"
			attrs["peripheries"] = "2"
		case s.ID == g.Start():
			attrs["shape"] = "doublecircle"
		case g.IsTerminal(s.ID):
			attrs["shape"] = "box"
		}

		var custom []string
		for _, p := range s.Preconditions {
			if p.Type == trajectory.PreconditionCustom {
				custom = append(custom, p.Description)
			}
		}
		if len(custom) > 0 {
			attrs["style"] = "dashed"
			attrs["tooltip"] = strconv.Quote(strings.Join(custom, "; "))
		}

		if err := out.AddNode(graphName, nodeID(s.ID), attrs); err != nil {
			return "", err
		}
	}

	for _, s := range g.Steps() {
		for _, p := range s.Preconditions {
			if p.Type != trajectory.PreconditionStepSatisfied {
				continue
			}
			if err := out.AddEdge(nodeID(p.StepID), nodeID(s.ID), true, nil); err != nil {
				return "", err
			}
		}
	}

	return out.String(), nil
}

// nodeID quotes ids so hyphens and digits stay valid DOT identifiers.
func nodeID(id trajectory.StepID) string {
	return strconv.Quote(string(id))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
