package graph

import (
	"slices"
	"sort"
)

// NodeID indexes a node in an arena. The root is always 0.
type NodeID uint32

const rootID NodeID = 0

// Leaf is the payload stored where a composed path ends: the template and
// the ordered set of sources that contributed to it. A Leaf may be shared
// by several terminal nodes (one per bot id) after AddForBot.
type Leaf struct {
	Template string
	Sources  []string

	// contributions are the templates as inserted, oldest first. Template
	// is their merge.
	contributions []contribution
	// terminals are the arena nodes pointing at this leaf.
	terminals []NodeID
}

type contribution struct {
	source   string
	template string
}

func newLeaf(source, template string) *Leaf {
	return &Leaf{
		Template:      template,
		Sources:       []string{source},
		contributions: []contribution{{source, template}},
	}
}

func (l *Leaf) hasSource(source string) bool {
	return slices.Contains(l.Sources, source)
}

func (l *Leaf) addSource(source string) {
	if !l.hasSource(source) {
		l.Sources = append(l.Sources, source)
	}
}

func (l *Leaf) removeSource(source string) {
	if i := slices.Index(l.Sources, source); i >= 0 {
		l.Sources = slices.Delete(l.Sources, i, i+1)
	}
}

// contribute merges template from source into the leaf.
func (l *Leaf) contribute(r *Resolver, source, template string) Outcome {
	var o Outcome
	l.Template, o = r.Merge(l.Template, template)
	l.contributions = append(l.contributions, contribution{source, template})
	l.addSource(source)
	return o
}

// withdraw drops everything source contributed and merges the remaining
// contributions again in their original order. It reports false if source
// never contributed.
func (l *Leaf) withdraw(r *Resolver, source string) bool {
	if !l.hasSource(source) {
		return false
	}
	l.removeSource(source)
	l.contributions = slices.DeleteFunc(l.contributions, func(c contribution) bool {
		return c.source == source
	})
	if len(l.contributions) > 0 {
		templates := make([]string, len(l.contributions))
		for i, c := range l.contributions {
			templates[i] = c.template
		}
		l.Template = r.Replay(templates)
	}
	return true
}

// node is a trie vertex. Wildcards are ordinary edge keys.
type node struct {
	parent   NodeID
	token    string // edge from parent
	children map[string]NodeID
	leaf     *Leaf
	live     bool
}

// arena stores nodes by index so that leaves can be shared across terminal
// edges without tree-exclusive ownership. Freed slots are recycled.
type arena struct {
	nodes []node
	free  []NodeID
}

func newArena() *arena {
	a := &arena{}
	a.nodes = append(a.nodes, node{live: true})
	return a
}

func (a *arena) get(id NodeID) *node {
	return &a.nodes[id]
}

// child returns the child of id reached over token.
func (a *arena) child(id NodeID, token string) (NodeID, bool) {
	c, ok := a.nodes[id].children[token]
	return c, ok
}

// ensureChild returns the child over token, creating it if absent.
func (a *arena) ensureChild(id NodeID, token string) NodeID {
	if c, ok := a.child(id, token); ok {
		return c
	}
	var c NodeID
	n := node{parent: id, token: token, live: true}
	if k := len(a.free); k > 0 {
		c = a.free[k-1]
		a.free = a.free[:k-1]
		a.nodes[c] = n
	} else {
		c = NodeID(len(a.nodes))
		a.nodes = append(a.nodes, n)
	}
	p := &a.nodes[id]
	if p.children == nil {
		p.children = make(map[string]NodeID)
	}
	p.children[token] = c
	return c
}

// prune removes id and then each ancestor that is left with neither a leaf
// nor children. The root is never removed. Returns the number of nodes freed.
func (a *arena) prune(id NodeID) int {
	freed := 0
	for id != rootID {
		n := &a.nodes[id]
		if !n.live || n.leaf != nil || len(n.children) > 0 {
			break
		}
		parent := n.parent
		delete(a.nodes[parent].children, n.token)
		a.nodes[id] = node{}
		a.free = append(a.free, id)
		freed++
		id = parent
	}
	return freed
}

// sortedChildren lists the edge tokens of id in a stable order.
func (a *arena) sortedChildren(id NodeID) []string {
	n := &a.nodes[id]
	tokens := make([]string, 0, len(n.children))
	for t := range n.children {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

func (a *arena) size() int {
	return len(a.nodes) - len(a.free)
}

// attach points terminal id at leaf.
func (a *arena) attach(id NodeID, leaf *Leaf) {
	a.nodes[id].leaf = leaf
	leaf.terminals = append(leaf.terminals, id)
}

// detach clears leaf from every terminal that still points at it and
// returns those terminals.
func (a *arena) detach(leaf *Leaf) []NodeID {
	var out []NodeID
	for _, id := range leaf.terminals {
		if n := &a.nodes[id]; n.live && n.leaf == leaf {
			n.leaf = nil
			out = append(out, id)
		}
	}
	leaf.terminals = nil
	return out
}

// memoryCursor adapts the arena to the matcher and dump walkers.
type memoryCursor struct{ a *arena }

func (c memoryCursor) Child(id NodeID, token string) (NodeID, bool, error) {
	n, ok := c.a.child(id, token)
	return n, ok, nil
}

func (c memoryCursor) Leaf(id NodeID) (*Leaf, error) {
	return c.a.nodes[id].leaf, nil
}

func (c memoryCursor) Children(id NodeID) ([]string, error) {
	return c.a.sortedChildren(id), nil
}
