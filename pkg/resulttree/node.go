package resulttree

import (
	"time"

	"github.com/Sternrassler/catalog-explorer/pkg/async"
	"github.com/Sternrassler/catalog-explorer/pkg/catalog"
)

// Kind is the variant of a Node.
type Kind int

const (
	KindRoot Kind = iota
	KindGroup
	KindLeaf
	KindLoadMore
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindGroup:
		return "group"
	case KindLeaf:
		return "leaf"
	case KindLoadMore:
		return "load_more"
	default:
		return "unknown"
	}
}

// CheckState is a tri-state selection.
type CheckState int

const (
	Unchecked CheckState = iota
	Checked
	PartiallyChecked
)

// String returns the state name.
func (s CheckState) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case Checked:
		return "checked"
	case PartiallyChecked:
		return "partially_checked"
	default:
		return "unknown"
	}
}

// ThumbnailState tracks the thumbnail of a leaf.
type ThumbnailState int

const (
	ThumbnailNotRequested ThumbnailState = iota
	ThumbnailPending
	ThumbnailLoaded
	ThumbnailFailed
)

// String returns the state name.
func (s ThumbnailState) String() string {
	switch s {
	case ThumbnailNotRequested:
		return "not_requested"
	case ThumbnailPending:
		return "pending"
	case ThumbnailLoaded:
		return "loaded"
	case ThumbnailFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Node is an element of the result tree. Which fields are meaningful depends
// on Kind:
//
//   - KindRoot: children only.
//   - KindGroup: Label, SortKey, ItemType, SatelliteID (satellite groups),
//     Check, Bounds.
//   - KindLeaf: Item and the item fields, Check, Thumbnail, Bounds.
//   - KindLoadMore: Label, Loaded, Total, PageState, Failure.
//
// Nodes are owned by their Tree and must only be read on its loop.
type Node struct {
	Kind  Kind
	Label string

	SortKey      time.Time
	ItemID       string
	ItemType     string
	SatelliteID  string
	Downloadable bool
	Item         *catalog.Item

	Check         CheckState
	Thumbnail     ThumbnailState
	ThumbnailPath string

	// Bounds is the union of descendant footprints for groups and the
	// footprint for leaves.
	Bounds catalog.Bounds

	Loaded    int
	Total     int
	PageState State
	Failure   *async.Failure

	groupKey string
	parent   *Node
	children []*Node
}

// Parent returns the parent node, nil for the root and detached nodes.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns a copy of the child list.
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

// ChildCount returns the number of children.
func (n *Node) ChildCount() int {
	return len(n.children)
}

// Child returns the i-th child.
func (n *Node) Child(i int) *Node {
	return n.children[i]
}

// Key returns the stable item key of a leaf, empty for other kinds.
func (n *Node) Key() string {
	if n.Kind != KindLeaf {
		return ""
	}
	return n.ItemType + "__" + n.ItemID
}

// IsContainer reports whether the check state of n is derived from children.
func (n *Node) IsContainer() bool {
	return n.Kind == KindRoot || n.Kind == KindGroup
}

func (n *Node) appendChild(child *Node) {
	child.parent = n
	n.children = append(n.children, child)
}

func (n *Node) insertChild(i int, child *Node) {
	child.parent = n
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = child
}

func (n *Node) removeChild(child *Node) bool {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			child.parent = nil
			return true
		}
	}
	return false
}

// walk visits n and its descendants depth first. It stops when fn returns
// false.
func (n *Node) walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.children {
		if !c.walk(fn) {
			return false
		}
	}
	return true
}
