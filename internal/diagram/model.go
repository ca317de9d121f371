// Package diagram renders a sequence tree as a Mermaid flowchart or an ASCII
// outline, optionally overlaid with the statuses of a recorded run.
package diagram

// NodeKind classifies a diagram node by the step it stands for.
type NodeKind string

const (
	NodeKindCategory   NodeKind = "category"
	NodeKindStep       NodeKind = "step"
	NodeKindLoop       NodeKind = "loop"
	NodeKindPrompt     NodeKind = "prompt"
	NodeKindWait       NodeKind = "wait"
	NodeKindBackground NodeKind = "background"
	NodeKindStart      NodeKind = "start"
	NodeKindEnd        NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
}

// Node is one step or group. Children are the nested steps of a category or
// a loop, in execution order.
type Node struct {
	ID       string
	Label    string
	Type     string
	Kind     NodeKind
	Status   string
	Children []*Node
}

// Group reports whether the node is drawn as a subgraph.
func (n *Node) Group() bool {
	return n.Kind == NodeKindCategory || (n.Kind == NodeKindLoop && len(n.Children) > 0)
}
