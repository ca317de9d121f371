package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string. Steps
// are chained in execution order; categories and loops become subgraphs.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	var classes []string
	for _, node := range model.Nodes {
		writeMermaidNode(&b, node, "    ", &classes)
	}

	// Chain top-level nodes.
	for i := 1; i < len(model.Nodes); i++ {
		b.WriteString(fmt.Sprintf("    %s --> %s\n", model.Nodes[i-1].ID, model.Nodes[i].ID))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef active fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef paused fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef canceled fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
	for _, c := range classes {
		b.WriteString(c)
	}
	return b.String()
}

func writeMermaidNode(b *strings.Builder, node *Node, indent string, classes *[]string) {
	if !node.Group() {
		b.WriteString(indent + mermaidNodeDef(node) + "\n")
		if cls := mermaidStatusClass(node.Status); cls != "" {
			*classes = append(*classes, fmt.Sprintf("    class %s %s\n", node.ID, cls))
		}
		return
	}

	b.WriteString(fmt.Sprintf("%ssubgraph %s[%q]\n", indent, node.ID, groupLabel(node)))
	b.WriteString(indent + "    direction TB\n")
	for _, c := range node.Children {
		writeMermaidNode(b, c, indent+"    ", classes)
	}
	for i := 1; i < len(node.Children); i++ {
		b.WriteString(fmt.Sprintf("%s    %s --> %s\n", indent, node.Children[i-1].ID, node.Children[i].ID))
	}
	if node.Kind == NodeKindLoop && len(node.Children) > 1 {
		last, first := node.Children[len(node.Children)-1], node.Children[0]
		b.WriteString(fmt.Sprintf("%s    %s -.->|repeat| %s\n", indent, last.ID, first.ID))
	}
	b.WriteString(indent + "end\n")
	if cls := mermaidStatusClass(node.Status); cls != "" {
		*classes = append(*classes, fmt.Sprintf("    class %s %s\n", node.ID, cls))
	}
}

func groupLabel(node *Node) string {
	if node.Kind == NodeKindLoop {
		return "loop: " + node.Label
	}
	return node.Label
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	label := node.Label
	switch node.Kind {
	case NodeKindPrompt:
		return fmt.Sprintf("%s{%q}", node.ID, label)
	case NodeKindWait:
		return fmt.Sprintf("%s([%q])", node.ID, label)
	case NodeKindBackground:
		return fmt.Sprintf("%s[/%q/]", node.ID, label)
	case NodeKindLoop:
		return fmt.Sprintf("%s[[%q]]", node.ID, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", node.ID, label)
	default:
		return fmt.Sprintf("%s[%q]", node.ID, label)
	}
}

// mermaidStatusClass maps a status string to a Mermaid class name.
func mermaidStatusClass(status string) string {
	switch status {
	case "completed", "error", "active", "canceled":
		return status
	case "paused", "error_paused":
		return "paused"
	default:
		return ""
	}
}
