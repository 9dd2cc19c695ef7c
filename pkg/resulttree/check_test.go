package resulttree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func leafNode(id string, downloadable bool) *Node {
	return &Node{Kind: KindLeaf, ItemID: id, ItemType: "PSScene", Downloadable: downloadable}
}

func groupNode(label string, children ...*Node) *Node {
	g := &Node{Kind: KindGroup, Label: label}
	for _, c := range children {
		g.appendChild(c)
	}
	return g
}

func TestGroupState(t *testing.T) {
	tests := []struct {
		name   string
		states []CheckState
		want   CheckState
	}{
		{"empty", nil, Unchecked},
		{"all unchecked", []CheckState{Unchecked, Unchecked}, Unchecked},
		{"all checked", []CheckState{Checked, Checked}, Checked},
		{"mixed", []CheckState{Checked, Unchecked}, PartiallyChecked},
		{"partial child", []CheckState{Checked, PartiallyChecked}, PartiallyChecked},
		{"single checked", []CheckState{Checked}, Checked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var children []*Node
			for _, s := range tt.states {
				children = append(children, &Node{Kind: KindLeaf, Check: s})
			}
			assert.Equal(t, tt.want, GroupState(children))
		})
	}
}

func TestGroupState_IgnoresLoadMore(t *testing.T) {
	children := []*Node{
		{Kind: KindGroup, Check: Checked},
		{Kind: KindLoadMore},
	}
	assert.Equal(t, Checked, GroupState(children))
}

func TestPropagateDown_ForcesNonDownloadableUnchecked(t *testing.T) {
	a := leafNode("a", true)
	b := leafNode("b", false)
	g := groupNode("g", a, b)

	changed := PropagateDown(g, Checked)

	assert.Equal(t, Checked, a.Check)
	assert.Equal(t, Unchecked, b.Check)
	assert.Equal(t, PartiallyChecked, g.Check)
	assert.Equal(t, []*Node{a, g}, changed)
}

func TestPropagateDown_PartialOnlyRecomputes(t *testing.T) {
	a := leafNode("a", true)
	a.Check = Checked
	b := leafNode("b", true)
	g := groupNode("g", a, b)

	changed := PropagateDown(g, PartiallyChecked)

	assert.Equal(t, Checked, a.Check)
	assert.Equal(t, Unchecked, b.Check)
	assert.Equal(t, PartiallyChecked, g.Check)
	assert.Equal(t, []*Node{g}, changed)
}

func TestRecomputeUp_StopsWhenUnchanged(t *testing.T) {
	a, b := leafNode("a", true), leafNode("b", true)
	inner := groupNode("inner", a, b)
	outer := groupNode("outer", inner, leafNode("c", true))
	root := &Node{Kind: KindRoot}
	root.appendChild(outer)

	a.Check = Checked
	changed := RecomputeUp(a)
	assert.Equal(t, []*Node{inner, outer, root}, changed)

	// A second recompute changes nothing.
	assert.Empty(t, RecomputeUp(a))
}

func TestCheckPropagation_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		root := &Node{Kind: KindRoot}
		var all []*Node
		for g := 0; g < 1+rng.Intn(4); g++ {
			group := groupNode("g")
			root.appendChild(group)
			all = append(all, group)
			for s := 0; s < 1+rng.Intn(3); s++ {
				sat := groupNode("s")
				group.appendChild(sat)
				all = append(all, sat)
				for l := 0; l < 1+rng.Intn(4); l++ {
					leaf := leafNode("x", rng.Intn(4) != 0)
					sat.appendChild(leaf)
					all = append(all, leaf)
				}
			}
		}

		states := []CheckState{Unchecked, Checked, PartiallyChecked}
		for step := 0; step < 30; step++ {
			n := all[rng.Intn(len(all))]
			PropagateDown(n, states[rng.Intn(len(states))])
			RecomputeUp(n)
			checkInvariant(t, root)

			root.walk(func(n *Node) bool {
				if n.Kind == KindLeaf && !n.Downloadable {
					assert.Equal(t, Unchecked, n.Check)
				}
				return true
			})
		}
	}
}
