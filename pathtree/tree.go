// Package pathtree implements a mutable tree keyed by path segments. Events
// for hierarchical names such as MQTT topics are merged into the tree one at
// a time without rescanning it.
package pathtree

import (
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/xlab/treeprint"
)

// Tree is the hierarchical namespace observed so far. A Tree is not safe for
// concurrent use; it is meant to be owned by a single goroutine.
type Tree struct {
	root   *Node
	clk    clock.Clock
	nodes  int
	leaves int
}

type Option func(*Tree)

// WithClock sets the clock used to timestamp merged values.
func WithClock(clk clock.Clock) Option {
	return func(t *Tree) {
		t.clk = clk
	}
}

// New returns an empty tree that only consists of the root node.
func New(opts ...Option) *Tree {
	t := &Tree{
		root: newNode(""),
		clk:  clock.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Root returns the root node. Its segment is empty.
func (t *Tree) Root() *Node {
	return t.root
}

// Len returns the number of nodes in the tree, not counting the root.
func (t *Tree) Len() int {
	return t.nodes
}

// Leaves returns the number of nodes that hold a value.
func (t *Tree) Leaves() int {
	return t.leaves
}

// Merge descends from the root along segments, creating missing nodes, and
// sets value on the node of the last segment. It returns that node. An empty
// segment sequence is a no-op that returns the root.
func (t *Tree) Merge(segments []string, value string) *Node {
	return t.MergeAt(segments, value, t.clk.Now())
}

// MergeAt is like Merge but records the given time as the update time of the
// value.
func (t *Tree) MergeAt(segments []string, value string, now time.Time) *Node {
	if len(segments) == 0 {
		return t.root
	}

	n := t.root
	for _, seg := range segments {
		var created bool
		n, created = n.child(seg)
		if created {
			t.nodes++
		}
	}
	t.SetValue(n, value, now)
	return n
}

// SetValue sets the value of a node that belongs to this tree. It allows
// updating a node that was found earlier without walking down the tree again.
func (t *Tree) SetValue(n *Node, value string, now time.Time) {
	if !n.hasValue {
		t.leaves++
	}
	n.Set(value, now)
}

// Lookup returns the node at the given path. An empty segment sequence
// returns the root.
func (t *Tree) Lookup(segments []string) (*Node, bool) {
	n := t.root
	for _, seg := range segments {
		ch, ok := n.children[seg]
		if !ok {
			return nil, false
		}
		n = ch
	}
	return n, true
}

// WalkFunc is called for every node visited by Walk with the segments leading
// to the node. Returning false skips the children of the node.
type WalkFunc func(segments []string, n *Node) bool

// Walk visits all nodes below the root depth first, children in segment order.
func (t *Tree) Walk(fn WalkFunc) {
	walk(nil, t.root, fn)
}

func walk(prefix []string, n *Node, fn WalkFunc) {
	for _, ch := range n.Children() {
		segments := append(prefix[:len(prefix):len(prefix)], ch.segment)
		if fn(segments, ch) {
			walk(segments, ch, fn)
		}
	}
}

// String renders the tree in a human-readable form.
func (t *Tree) String() string {
	tp := treeprint.NewWithRoot("/")
	addBranch(tp, t.root)
	return tp.String()
}

func addBranch(tp treeprint.Tree, n *Node) {
	for _, ch := range n.Children() {
		name := ch.segment
		if name == "" {
			name = `""`
		}
		if ch.ChildCount() == 0 {
			tp.AddMetaNode(ch.value, name)
			continue
		}
		var br treeprint.Tree
		if ch.hasValue {
			br = tp.AddMetaBranch(ch.value, name)
		} else {
			br = tp.AddBranch(name)
		}
		addBranch(br, ch)
	}
}

// Join builds the path string for a list of segments.
func Join(segments []string) string {
	return strings.Join(segments, "/")
}
