package resulttree

import "github.com/Sternrassler/catalog-explorer/pkg/async"

// Root returns the root node.
func (t *Tree) Root() *Node {
	return t.root
}

// State returns the paging state.
func (t *Tree) State() State {
	return t.state
}

// Failure returns the failure of the last page, nil after a successful page.
func (t *Tree) Failure() *async.Failure {
	return t.failure
}

// Loaded returns the number of distinct items inserted so far.
func (t *Tree) Loaded() int {
	return t.loaded
}

// Total returns the aggregate count or UnknownTotal.
func (t *Tree) Total() int {
	return t.total
}

// LoadMoreNode returns the placeholder, nil when there is none.
func (t *Tree) LoadMoreNode() *Node {
	return t.loadMore
}

// Find returns the leaf for an item key ("itemType__itemID").
func (t *Tree) Find(key string) (*Node, bool) {
	n, ok := t.index[key]
	return n, ok
}

// Walk visits every node depth first in display order until fn returns false.
func (t *Tree) Walk(fn func(*Node) bool) {
	t.root.walk(fn)
}

// Leaves returns every leaf in display order.
func (t *Tree) Leaves() []*Node {
	var leaves []*Node
	t.Walk(func(n *Node) bool {
		if n.Kind == KindLeaf {
			leaves = append(leaves, n)
		}
		return true
	})
	return leaves
}

// CheckedItemIDs returns the ids of checked leaves in display order without
// duplicates.
func (t *Tree) CheckedItemIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, leaf := range t.Leaves() {
		if leaf.Check != Checked {
			continue
		}
		if _, ok := seen[leaf.ItemID]; ok {
			continue
		}
		seen[leaf.ItemID] = struct{}{}
		ids = append(ids, leaf.ItemID)
	}
	return ids
}

// CheckedByItemType partitions the checked item ids by item type.
func (t *Tree) CheckedByItemType() map[string][]string {
	seen := make(map[string]struct{})
	out := make(map[string][]string)
	for _, leaf := range t.Leaves() {
		if leaf.Check != Checked {
			continue
		}
		key := leaf.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out[leaf.ItemType] = append(out[leaf.ItemType], leaf.ItemID)
	}
	return out
}
