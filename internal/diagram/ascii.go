package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "error":
		return "[FAIL]"
	case "active":
		return "[RUN]"
	case "paused", "error_paused":
		return "[PAUSE]"
	case "canceled":
		return "[CANCEL]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as an indented outline.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}
	for _, node := range model.Nodes {
		if node.Kind == NodeKindStart || node.Kind == NodeKindEnd {
			continue
		}
		writeASCII(&b, node, 0)
	}
	return b.String()
}

func writeASCII(b *strings.Builder, node *Node, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	switch {
	case node.Kind == NodeKindCategory:
		b.WriteString("+ ")
	case node.Kind == NodeKindLoop:
		b.WriteString("@ ")
	case node.Kind == NodeKindBackground:
		b.WriteString("& ")
	default:
		b.WriteString("- ")
	}
	b.WriteString(node.Label)
	if node.Type != "" {
		b.WriteString(" <" + node.Type + ">")
	}
	if tag := statusTag(node.Status); tag != "" {
		b.WriteString(" " + tag)
	}
	b.WriteString("\n")
	for _, c := range node.Children {
		writeASCII(b, c, depth+1)
	}
}
