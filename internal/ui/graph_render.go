package ui

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/governedworks/wbs/internal/types"
)

// BuildDependencyTree constructs a lipgloss/tree rooted at packetID, walking
// the expanded dependency map downward. statuses labels each node.
func BuildDependencyTree(packetID string, deps map[string][]string, statuses map[string]types.Status) *tree.Tree {
	t := tree.New().Root(nodeLabel(packetID, statuses))
	t.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorAccent))
	t.RootStyle(lipgloss.NewStyle().Bold(true).Foreground(ColorAccent))
	addDependencyChildren(t, packetID, deps, statuses, map[string]bool{packetID: true})
	return t
}

func addDependencyChildren(t *tree.Tree, packetID string, deps map[string][]string, statuses map[string]types.Status, seen map[string]bool) {
	children := append([]string(nil), deps[packetID]...)
	sort.Strings(children)
	for _, dep := range children {
		child := tree.New().Root(nodeLabel(dep, statuses))
		child.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorAccent))
		if !seen[dep] {
			seen[dep] = true
			addDependencyChildren(child, dep, deps, statuses, seen)
		}
		t.Child(child)
	}
}

func nodeLabel(packetID string, statuses map[string]types.Status) string {
	if status, ok := statuses[packetID]; ok {
		return fmt.Sprintf("%s [%s]", packetID, RenderStatus(status))
	}
	return packetID
}

// RenderDependencyGraph renders the full project graph: one tree per packet
// that has dependencies, roots sorted.
func RenderDependencyGraph(deps map[string][]string, statuses map[string]types.Status) string {
	roots := make([]string, 0, len(deps))
	for id, ds := range deps {
		if len(ds) > 0 {
			roots = append(roots, id)
		}
	}
	if len(roots) == 0 {
		return TableHintStyle.Render("No dependencies declared.")
	}
	sort.Strings(roots)

	out := ""
	for i, id := range roots {
		if i > 0 {
			out += "\n"
		}
		out += BuildDependencyTree(id, deps, statuses).String() + "\n"
	}
	return out
}
