package resulttree

// GroupState derives a container state from its children. Load-more
// placeholders do not take part. A container without checkable children is
// Unchecked.
func GroupState(children []*Node) CheckState {
	checked, unchecked := 0, 0
	for _, c := range children {
		if c.Kind == KindLoadMore {
			continue
		}
		switch c.Check {
		case Checked:
			checked++
		case Unchecked:
			unchecked++
		default:
			return PartiallyChecked
		}
	}
	switch {
	case checked > 0 && unchecked == 0:
		return Checked
	case checked == 0:
		return Unchecked
	default:
		return PartiallyChecked
	}
}

// PropagateDown applies state to n and its descendants. Leaves that cannot be
// downloaded are forced to Unchecked; containers are recomputed from their
// children afterwards. PartiallyChecked is not propagated; it only recomputes
// n. The nodes whose state changed are returned in depth-first post-order.
func PropagateDown(n *Node, state CheckState) []*Node {
	var changed []*Node
	propagateDown(n, state, &changed)
	return changed
}

func propagateDown(n *Node, state CheckState, changed *[]*Node) {
	switch n.Kind {
	case KindLoadMore:
		return
	case KindLeaf:
		if state == PartiallyChecked {
			return
		}
		want := state
		if !n.Downloadable {
			want = Unchecked
		}
		if n.Check != want {
			n.Check = want
			*changed = append(*changed, n)
		}
		return
	}

	if state != PartiallyChecked {
		for _, c := range n.children {
			propagateDown(c, state, changed)
		}
	}
	if s := GroupState(n.children); s != n.Check {
		n.Check = s
		*changed = append(*changed, n)
	}
}

// RecomputeUp recomputes every ancestor container of n from its children and
// returns those whose state changed, nearest first.
func RecomputeUp(n *Node) []*Node {
	var changed []*Node
	for p := n.parent; p != nil; p = p.parent {
		if !p.IsContainer() {
			continue
		}
		s := GroupState(p.children)
		if s == p.Check {
			break
		}
		p.Check = s
		changed = append(changed, p)
	}
	return changed
}
