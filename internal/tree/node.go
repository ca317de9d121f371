// Package tree holds the ordered, hierarchical structure of steps an operator
// assembles, and turns it into the execution order the sequence runner walks.
package tree

import (
	"cmp"
	"slices"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

// Node is either a Category (named group, not executable) or a Sequence node
// wrapping one Step. Every node except the root has exactly one parent.
type Node struct {
	kind     schema.NodeKind
	name     string
	step     engine.Step
	parent   *Node
	children []*Node
}

// NewCategory returns a category node holding children in the given order.
// It panics if a child already has a parent.
func NewCategory(name string, children ...*Node) *Node {
	n := &Node{kind: schema.NodeKindCategory, name: name}
	mustAppend(n, children)
	return n
}

// NewSequence returns a node wrapping step. Children are nested steps and
// are only meaningful when step is an engine.Composite.
func NewSequence(step engine.Step, children ...*Node) *Node {
	n := &Node{kind: schema.NodeKindSequence, step: step}
	mustAppend(n, children)
	return n
}

func mustAppend(n *Node, children []*Node) {
	if err := n.Append(children...); err != nil {
		panic(err)
	}
}

func (n *Node) Kind() schema.NodeKind { return n.kind }
func (n *Node) Step() engine.Step     { return n.step }
func (n *Node) Parent() *Node         { return n.parent }
func (n *Node) Len() int              { return len(n.children) }

// Name is the display name: the category name, or the wrapped step's name.
func (n *Node) Name() string {
	if n.kind == schema.NodeKindSequence && n.step != nil {
		return n.step.Name()
	}
	return n.name
}

// SetName renames a category. Sequence nodes take their name from the step.
func (n *Node) SetName(name string) {
	n.name = name
}

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	return slices.Clone(n.children)
}

// Child returns the child at index.
func (n *Node) Child(index int) (*Node, error) {
	if index < 0 || index >= len(n.children) {
		return nil, schema.NewErrorf(schema.ErrCodeOutOfRange,
			"child index %d out of range [0, %d)", index, len(n.children))
	}
	return n.children[index], nil
}

// IsBranch reports whether n currently has children.
func (n *Node) IsBranch() bool { return len(n.children) > 0 }

// IndexInParent returns the position of n in its parent's child list, or
// (-1, false) for a root.
func (n *Node) IndexInParent() (int, bool) {
	if n.parent == nil {
		return -1, false
	}
	for i, c := range n.parent.children {
		if c == n {
			return i, true
		}
	}
	return -1, false
}

// Insert places nodes at index, shifting later children right. index may
// equal Len() to append. Nodes must be detached and must not create a cycle;
// sequence nodes accept only sequence children.
func (n *Node) Insert(index int, nodes ...*Node) error {
	if index < 0 || index > len(n.children) {
		return schema.NewErrorf(schema.ErrCodeOutOfRange,
			"insert index %d out of range [0, %d]", index, len(n.children))
	}
	for i, c := range nodes {
		if err := n.canAdopt(c); err != nil {
			return err.WithDetails(map[string]any{"position": i})
		}
		if slices.Contains(nodes[:i], c) {
			return schema.NewError(schema.ErrCodeConflict, "node listed twice in one insert")
		}
	}
	for _, c := range nodes {
		c.parent = n
	}
	n.children = slices.Insert(n.children, index, nodes...)
	return nil
}

func (n *Node) canAdopt(c *Node) *schema.FabrialError {
	switch {
	case c == nil:
		return schema.NewError(schema.ErrCodeValidation, "cannot insert nil node")
	case c.parent != nil:
		return schema.NewErrorf(schema.ErrCodeConflict, "node %q already has a parent", c.Name())
	case c == n || c.isAncestorOf(n):
		return schema.NewErrorf(schema.ErrCodeConflict, "inserting %q would create a cycle", c.Name())
	case n.kind == schema.NodeKindSequence && c.kind != schema.NodeKindSequence:
		return schema.NewErrorf(schema.ErrCodeValidation, "step %q cannot hold category %q", n.Name(), c.Name())
	}
	return nil
}

func (n *Node) isAncestorOf(other *Node) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

// Append adds nodes after the last child.
func (n *Node) Append(nodes ...*Node) error {
	return n.Insert(len(n.children), nodes...)
}

// InsertSorted adds nodes at the positions the authoring order puts them,
// assuming the existing children are already sorted.
func (n *Node) InsertSorted(nodes ...*Node) error {
	for _, c := range nodes {
		idx, _ := slices.BinarySearchFunc(n.children, c, func(a, b *Node) int {
			if r := compareNodes(a, b); r != 0 {
				return r
			}
			return -1 // place after equal names
		})
		if err := n.Insert(idx, c); err != nil {
			return err
		}
	}
	return nil
}

// Remove detaches count children starting at index and returns them.
func (n *Node) Remove(index, count int) ([]*Node, error) {
	if count < 0 {
		return nil, schema.NewErrorf(schema.ErrCodeOutOfRange, "remove count %d is negative", count)
	}
	if index < 0 || index+count > len(n.children) {
		return nil, schema.NewErrorf(schema.ErrCodeOutOfRange,
			"remove range [%d, %d) out of range [0, %d)", index, index+count, len(n.children))
	}
	removed := slices.Clone(n.children[index : index+count])
	n.children = slices.Delete(n.children, index, index+count)
	for _, c := range removed {
		c.parent = nil
	}
	return removed, nil
}

// Detach removes n from its parent. It is a no-op for a root.
func (n *Node) Detach() {
	if idx, ok := n.IndexInParent(); ok {
		_, _ = n.parent.Remove(idx, 1)
	}
}

// SortChildren orders children by the authoring rule: nodes with children
// before leaves, then by display name. With recursive set the whole subtree
// is sorted.
func (n *Node) SortChildren(recursive bool) {
	slices.SortStableFunc(n.children, compareNodes)
	if !recursive {
		return
	}
	for _, c := range n.children {
		c.SortChildren(true)
	}
}

func compareNodes(a, b *Node) int {
	if a.IsBranch() != b.IsBranch() {
		if a.IsBranch() {
			return -1
		}
		return 1
	}
	return cmp.Compare(a.Name(), b.Name())
}

// Walk visits n and its descendants depth-first in stored order. Returning
// false from visit skips the node's children.
func (n *Node) Walk(visit func(node *Node, depth int) bool) {
	n.walk(visit, 0)
}

func (n *Node) walk(visit func(*Node, int) bool, depth int) {
	if !visit(n, depth) {
		return
	}
	for _, c := range n.children {
		c.walk(visit, depth+1)
	}
}

// Steps returns the top-level execution order: categories are flattened in
// stored order, and each composite step receives its nested steps. It panics
// with a FRAMEWORK_ERROR if a sequence node has no step.
func (n *Node) Steps() []engine.Step {
	if n.kind == schema.NodeKindSequence {
		return []engine.Step{n.bind()}
	}
	var out []engine.Step
	for _, c := range n.children {
		out = append(out, c.Steps()...)
	}
	return out
}

// bind returns n's step with nested children handed to it.
func (n *Node) bind() engine.Step {
	if n.step == nil {
		panic(schema.NewError(schema.ErrCodeFramework, "sequence node has no step"))
	}
	if comp, ok := n.step.(engine.Composite); ok {
		children := make([]engine.Step, 0, len(n.children))
		for _, c := range n.children {
			children = append(children, c.bind())
		}
		comp.SetChildren(children)
	}
	return n.step
}

var _ engine.Sequence = (*Node)(nil)
