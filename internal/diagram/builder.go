package diagram

import (
	"fmt"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/internal/tree"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Build constructs a DiagramModel from a sequence tree. statuses maps step
// names to their recorded status and may be nil.
func Build(title string, root *tree.Node, statuses map[string]schema.Status) (*DiagramModel, error) {
	if root == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: nil tree")
	}
	b := &builder{statuses: statuses}

	model := &DiagramModel{Title: title}
	model.Nodes = append(model.Nodes, &Node{ID: "__start__", Label: "Start", Kind: NodeKindStart})
	if root.Kind() == schema.NodeKindCategory {
		for _, c := range root.Children() {
			model.Nodes = append(model.Nodes, b.node(c))
		}
	} else {
		model.Nodes = append(model.Nodes, b.node(root))
	}
	model.Nodes = append(model.Nodes, &Node{ID: "__end__", Label: "End", Kind: NodeKindEnd})
	return model, nil
}

type builder struct {
	statuses map[string]schema.Status
	next     int
}

func (b *builder) node(t *tree.Node) *Node {
	b.next++
	n := &Node{ID: fmt.Sprintf("n%d", b.next), Label: t.Name()}
	if t.Kind() == schema.NodeKindCategory {
		n.Kind = NodeKindCategory
	} else {
		n.Type = stepType(t.Step())
		n.Kind = kindOf(t.Step(), n.Type)
		if st, ok := b.statuses[n.Label]; ok {
			n.Status = string(st)
		}
	}
	for _, c := range t.Children() {
		n.Children = append(n.Children, b.node(c))
	}
	return n
}

func stepType(step engine.Step) string {
	if s, ok := step.(tree.Serializable); ok {
		return s.Type()
	}
	return ""
}

// kindOf maps a step to a diagram kind.
func kindOf(step engine.Step, typ string) NodeKind {
	if bg, ok := step.(engine.BackgroundStep); ok && bg.RunsInBackground() {
		return NodeKindBackground
	}
	if _, ok := step.(engine.Composite); ok {
		return NodeKindLoop
	}
	switch typ {
	case "prompt", "cancel_sequence":
		return NodeKindPrompt
	case "hold", "wait_until", "set_temperature":
		return NodeKindWait
	default:
		return NodeKindStep
	}
}

// StatusesFromRecords keys recorded step statuses by step name. Later records
// win, so a step run by a loop shows its last iteration.
func StatusesFromRecords(records []StepStatus) map[string]schema.Status {
	out := make(map[string]schema.Status, len(records))
	for _, r := range records {
		out[r.Step] = r.Status
	}
	return out
}

// StepStatus is the part of a recorded step the overlay needs.
type StepStatus struct {
	Step   string
	Status schema.Status
}
