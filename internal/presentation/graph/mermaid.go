// Package graph renders graph definitions as Mermaid flowcharts.
package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

// GraphOverlay contains execution state to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []string
	CurrentNode  string
}

// OverlayFromExecution highlights the nodes an execution went through.
func OverlayFromExecution(exec *domain.Execution) *GraphOverlay {
	overlay := &GraphOverlay{CurrentNode: exec.CurrentNodeID}
	for _, step := range exec.ExecutionLog {
		overlay.VisitedNodes = append(overlay.VisitedNodes, step.NodeID)
	}
	return overlay
}

// GenerateMermaid produces a Mermaid flowchart for g.
// Shapes follow the node's role:
//   - start: ((circle))
//   - end, handoff: (((double circle)))
//   - question, menu: [/parallelogram/]
//   - condition: {rhombus}
//   - api_call, webhook, tag_contact: [[subroutine]]
//   - everything else: [rectangle]
//
// Edge handles become edge labels. Overlay styles are applied when overlay is
// not nil.
func GenerateMermaid(g *domain.GraphDefinition, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range g.Nodes {
		opener, closer := "[", "]"
		switch node.Type {
		case domain.NodeTypeStart:
			opener, closer = "((", "))"
		case domain.NodeTypeEnd, domain.NodeTypeHandoff:
			opener, closer = "(((", ")))"
		case domain.NodeTypeQuestion, domain.NodeTypeMenu:
			opener, closer = "[/", "/]"
		case domain.NodeTypeCondition:
			opener, closer = "{", "}"
		case domain.NodeTypeAPICall, domain.NodeTypeWebhook, domain.NodeTypeTagContact:
			opener, closer = "[[", "]]"
		}

		label := node.ID
		if node.Type != "" && node.Type != domain.NodeTypeStart {
			label = fmt.Sprintf("%s <br/> <i>%s</i>", node.ID, node.Type)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", sanitizeMermaidID(node.ID), opener, escapeLabel(label), closer)
	}

	for _, e := range g.Edges {
		arrow := "-->"
		switch e.SourceHandle {
		case "":
		case domain.BranchMaxRetries:
			arrow = fmt.Sprintf("-. \"%s\" .->", e.SourceHandle)
		default:
			arrow = fmt.Sprintf("-- \"%s\" -->", escapeLabel(e.SourceHandle))
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(e.Source), arrow, sanitizeMermaidID(e.Target))
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high contrast regardless of theme.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(id)
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", safeID)
			}
		}
		if overlay.CurrentNode != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
		}
	}

	return sb.String()
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
