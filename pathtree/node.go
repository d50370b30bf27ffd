package pathtree

import (
	"sort"
	"time"
)

// Node is a single path segment of a [Tree]. A node that never received a
// value of its own is a structural node: it only exists because a longer path
// passed through it.
//
// A node keeps its identity for the lifetime of the tree. Merging the same
// path again updates the existing node in place.
type Node struct {
	segment  string
	value    string
	hasValue bool
	messages uint64
	updated  time.Time
	children map[string]*Node
}

func newNode(segment string) *Node {
	return &Node{segment: segment}
}

// Segment returns the name of the node relative to its parent. The root node
// has an empty segment.
func (n *Node) Segment() string {
	return n.segment
}

// Value returns the most recent value merged at this exact path and whether
// the node holds a value at all.
func (n *Node) Value() (string, bool) {
	return n.value, n.hasValue
}

// HasValue reports whether the node is a leaf in the sense of having received
// a value, as opposed to a structural node.
func (n *Node) HasValue() bool {
	return n.hasValue
}

// Messages returns the number of values that were merged into this node.
func (n *Node) Messages() uint64 {
	return n.messages
}

// UpdatedAt returns the time the value of the node was last set. It is the
// zero time for structural nodes.
func (n *Node) UpdatedAt() time.Time {
	return n.updated
}

// Set replaces the value of the node.
func (n *Node) Set(value string, t time.Time) {
	n.value = value
	n.hasValue = true
	n.messages++
	n.updated = t
}

func (n *Node) ChildCount() int {
	return len(n.children)
}

// Child returns the direct child with the given segment.
func (n *Node) Child(segment string) (*Node, bool) {
	ch, ok := n.children[segment]
	return ch, ok
}

// Children returns the direct children of the node ordered by segment.
func (n *Node) Children() []*Node {
	if len(n.children) == 0 {
		return nil
	}
	children := make([]*Node, 0, len(n.children))
	for _, ch := range n.children {
		children = append(children, ch)
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].segment < children[j].segment
	})
	return children
}

// child looks up the child for segment, creating it if necessary. The second
// return value reports whether a node was created.
func (n *Node) child(segment string) (*Node, bool) {
	if ch, ok := n.children[segment]; ok {
		return ch, false
	}
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	ch := newNode(segment)
	n.children[segment] = ch
	return ch, true
}
