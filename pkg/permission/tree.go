package permission

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// Wildcard is the segment that grants every permission beneath its prefix.
const Wildcard = "*"

// Tree holds a set of granted dotted permission strings, indexed by path
// segment for cheap prefix and wildcard lookups.
type Tree struct {
	root *node
}

// A node is either a leaf (an exact grant ends here), a branch of child
// segments, or both when a bare grant and a deeper grant share a prefix.
type node struct {
	leaf     bool
	children map[string]*node
}

// NewTree returns an empty permission tree.
func NewTree() *Tree {
	return &Tree{root: &node{}}
}

// Grant inserts a dotted permission string. Granting "reports.*" covers
// every permission under "reports."; granting "reports.export" covers that
// string and anything deeper than it.
func (t *Tree) Grant(perm string) {
	if perm == "" {
		return
	}
	n := t.root
	for _, seg := range strings.Split(perm, ".") {
		n = n.child(seg)
	}
	n.leaf = true
}

// Has reports whether the dotted path is covered by a grant. The wildcard
// segment is consulted before the literal one at every level. A check that
// runs deeper than an exact grant is still covered; a check that stops on a
// branch that carries no grant of its own is not.
func (t *Tree) Has(path string) bool {
	if path == "" {
		return false
	}
	n := t.root
	for _, seg := range strings.Split(path, ".") {
		if n.leaf {
			return true
		}
		if n.children == nil {
			return false
		}
		if _, ok := n.children[Wildcard]; ok {
			return true
		}
		next, ok := n.children[seg]
		if !ok {
			return false
		}
		n = next
	}
	return n.leaf
}

// Paths returns the granted permission strings in sorted order.
func (t *Tree) Paths() []string {
	var out []string
	t.root.collect("", &out)
	sort.Strings(out)
	return out
}

// Len returns the number of distinct grants in the tree.
func (t *Tree) Len() int {
	return len(t.Paths())
}

// MarshalJSON renders the tree as nested objects with boolean leaves, e.g.
// {"reports":{"export":true,"*":true}}. A grant that is both a leaf and a
// prefix of deeper grants marshals as its subtree.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return t.root.marshal()
}

func (n *node) child(seg string) *node {
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	c, ok := n.children[seg]
	if !ok {
		c = &node{}
		n.children[seg] = c
	}
	return c
}

func (n *node) collect(prefix string, out *[]string) {
	if n.leaf {
		*out = append(*out, prefix)
	}
	for seg, c := range n.children {
		if prefix == "" {
			c.collect(seg, out)
		} else {
			c.collect(prefix+"."+seg, out)
		}
	}
}

func (n *node) marshal() ([]byte, error) {
	if len(n.children) == 0 {
		return json.Marshal(n.leaf)
	}
	segs := make([]string, 0, len(n.children))
	for seg := range n.children {
		segs = append(segs, seg)
	}
	sort.Strings(segs)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, seg := range segs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(seg)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		sub, err := n.children[seg].marshal()
		if err != nil {
			return nil, err
		}
		buf.Write(sub)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
