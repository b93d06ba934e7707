package render

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/dbcrust/dbcrust/internal/backend"
)

var (
	planOperationStyle = lipgloss.NewStyle().Bold(true)
	planWarningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// RenderPlan draws an EXPLAIN-style plan tree to w, per the step 5:
// nodes, durations, row estimates, and a warning marker on full scans.
func RenderPlan(w io.Writer, root *backend.PlanNode) {
	color := isColorTerminal(w)
	renderPlanNode(w, root, "", true, color)
}

func renderPlanNode(w io.Writer, n *backend.PlanNode, prefix string, last bool, color bool) {
	if n == nil {
		return
	}
	connector := "├─ "
	childPrefix := prefix + "│  "
	if last {
		connector = "└─ "
		childPrefix = prefix + "   "
	}

	op := n.Operation
	if color {
		op = planOperationStyle.Render(op)
	}
	line := fmt.Sprintf("%s%s%s", prefix, connector, op)
	if n.Detail != "" {
		line += fmt.Sprintf(" (%s)", n.Detail)
	}
	line += fmt.Sprintf(" est=%d actual=%d dur=%s", n.EstRows, n.ActualRows, n.Duration)
	if n.FullScan {
		warning := "[FULL SCAN]"
		if color {
			warning = planWarningStyle.Render(warning)
		}
		line += " " + warning
	}
	fmt.Fprintln(w, line)

	for i, child := range n.Children {
		renderPlanNode(w, child, childPrefix, i == len(n.Children)-1, color)
	}
}

// Summary renders a one-line rollup of the plan tree, used by \explain when
// a compact form is requested.
func Summary(root *backend.PlanNode) string {
	if root == nil {
		return ""
	}
	var warn int
	var count int
	var walk func(n *backend.PlanNode)
	walk = func(n *backend.PlanNode) {
		count++
		if n.FullScan {
			warn++
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	if warn == 0 {
		return fmt.Sprintf("%d plan nodes, no full scans", count)
	}
	return fmt.Sprintf("%d plan nodes, %d full scan%s", count, warn, pluralSuffix(warn))
}

func pluralSuffix(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
