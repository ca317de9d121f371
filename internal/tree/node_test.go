package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maughan-Lab/fabrial-sub000/internal/engine"
	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

func TestNode_ParentAndIndex(t *testing.T) {
	a, b, c := leaf("a"), leaf("b"), leaf("c")
	root := NewCategory("root", a, b, c)

	for i, n := range []*Node{a, b, c} {
		assert.Same(t, root, n.Parent())
		idx, ok := n.IndexInParent()
		require.True(t, ok)
		assert.Equal(t, i, idx)
	}
	idx, ok := root.IndexInParent()
	assert.False(t, ok)
	assert.Equal(t, -1, idx)
}

func TestNode_InsertAtIndex(t *testing.T) {
	root := NewCategory("root", leaf("a"), leaf("d"))

	require.NoError(t, root.Insert(1, leaf("b"), leaf("c")))
	assert.Equal(t, []string{"a", "b", "c", "d"}, names(root.Children()))

	require.NoError(t, root.Insert(4, leaf("e")))
	require.NoError(t, root.Insert(0, leaf("_")))
	assert.Equal(t, []string{"_", "a", "b", "c", "d", "e"}, names(root.Children()))
}

func TestNode_InsertOutOfRange(t *testing.T) {
	root := NewCategory("root", leaf("a"))

	for _, idx := range []int{-1, 2, 10} {
		err := root.Insert(idx, leaf("x"))
		require.Error(t, err, "index %d", idx)
		assert.True(t, schema.HasCode(err, schema.ErrCodeOutOfRange))
	}
	assert.Equal(t, 1, root.Len(), "failed inserts leave the tree unchanged")
}

func TestNode_InsertRejectsAttachedAndCycles(t *testing.T) {
	a := leaf("a")
	group := NewCategory("group", a)
	root := NewCategory("root", group)

	err := root.Insert(0, a)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))

	root.Detach()
	group.Detach()
	err = group.Append(group)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))

	inner := NewCategory("inner")
	require.NoError(t, group.Append(inner))
	err = inner.Append(root)
	require.NoError(t, err, "root is detached and unrelated")
	err = root.Append(group)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict), "group is an ancestor of root")

	x := leaf("x")
	err = group.Insert(0, x, x)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
	assert.Nil(t, x.Parent())
}

func TestNode_SequenceRejectsCategoryChild(t *testing.T) {
	l := loop("loop")
	err := l.Append(NewCategory("group"))
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.NoError(t, l.Append(leaf("a")))
	assert.Error(t, l.Append(nil))
}

func TestNode_Remove(t *testing.T) {
	a, b, c, d := leaf("a"), leaf("b"), leaf("c"), leaf("d")
	root := NewCategory("root", a, b, c, d)

	removed, err := root.Remove(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, names(removed))
	assert.Equal(t, []string{"a", "d"}, names(root.Children()))
	assert.Nil(t, b.Parent())
	_, ok := c.IndexInParent()
	assert.False(t, ok)

	idx, ok := d.IndexInParent()
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	removed, err = root.Remove(2, 0)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestNode_RemoveOutOfRange(t *testing.T) {
	root := NewCategory("root", leaf("a"), leaf("b"))

	cases := []struct{ index, count int }{
		{-1, 1}, {0, 3}, {2, 1}, {1, -1},
	}
	for _, tc := range cases {
		_, err := root.Remove(tc.index, tc.count)
		require.Error(t, err, "remove(%d, %d)", tc.index, tc.count)
		assert.True(t, schema.HasCode(err, schema.ErrCodeOutOfRange))
	}
	assert.Equal(t, 2, root.Len())
}

func TestNode_Child(t *testing.T) {
	root := NewCategory("root", leaf("a"))
	c, err := root.Child(0)
	require.NoError(t, err)
	assert.Equal(t, "a", c.Name())

	_, err = root.Child(1)
	assert.True(t, schema.HasCode(err, schema.ErrCodeOutOfRange))
}

func TestNode_SortBranchesFirstThenName(t *testing.T) {
	root := NewCategory("root",
		leaf("zeta"),
		NewCategory("beta", leaf("x")),
		leaf("alpha"),
		loop("gamma", leaf("y")),
		NewCategory("aardvark"),
		NewCategory("delta", leaf("w")),
	)
	root.SortChildren(false)

	assert.Equal(t, []string{"beta", "delta", "gamma", "aardvark", "alpha", "zeta"}, names(root.Children()))
}

func TestNode_SortRecursive(t *testing.T) {
	inner := NewCategory("inner", leaf("b"), leaf("a"))
	root := NewCategory("root", leaf("z"), inner)
	root.SortChildren(true)

	assert.Equal(t, []string{"inner", "z"}, names(root.Children()))
	assert.Equal(t, []string{"a", "b"}, names(inner.Children()))
}

func TestNode_InsertSorted(t *testing.T) {
	root := NewCategory("root")
	require.NoError(t, root.InsertSorted(leaf("m"), leaf("c"), NewCategory("grp", leaf("x")), leaf("a")))
	assert.Equal(t, []string{"grp", "a", "c", "m"}, names(root.Children()))

	require.NoError(t, root.InsertSorted(leaf("c")))
	assert.Equal(t, []string{"grp", "a", "c", "c", "m"}, names(root.Children()))
}

func TestNode_Walk(t *testing.T) {
	root := NewCategory("root",
		NewCategory("g1", leaf("a"), leaf("b")),
		loop("l", leaf("c")),
	)

	var visited []string
	var depths []int
	root.Walk(func(n *Node, depth int) bool {
		visited = append(visited, n.Name())
		depths = append(depths, depth)
		return n.Name() != "l"
	})
	assert.Equal(t, []string{"root", "g1", "a", "b", "l"}, visited)
	assert.Equal(t, []int{0, 1, 2, 2, 1}, depths)
}

func TestNode_StepsFlattensCategoriesInStoredOrder(t *testing.T) {
	inner := leaf("c")
	l := loop("loop", inner)
	root := NewCategory("root",
		leaf("b"),
		NewCategory("group", leaf("a"), l),
		leaf("d"),
	)

	steps := root.Steps()
	got := make([]string, len(steps))
	for i, s := range steps {
		got[i] = s.Name()
	}
	assert.Equal(t, []string{"b", "a", "loop", "d"}, got)

	lp := l.Step().(*stubLoop)
	require.Len(t, lp.children, 1)
	assert.Same(t, inner.Step(), lp.children[0])
}

func TestNode_StepsPanicsOnMissingStep(t *testing.T) {
	root := NewCategory("root", NewSequence(nil))
	assert.PanicsWithValue(t, schema.NewError(schema.ErrCodeFramework, "sequence node has no step"), func() {
		root.Steps()
	})
}

func TestNode_IsSequence(t *testing.T) {
	var seq engine.Sequence = NewCategory("root", leaf("a"))
	assert.Len(t, seq.Steps(), 1)
}
