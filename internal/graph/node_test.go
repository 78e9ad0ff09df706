package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArena_PruneAndReuse(t *testing.T) {
	a := newArena()
	x := a.ensureChild(rootID, "X")
	y := a.ensureChild(x, "Y")
	z := a.ensureChild(y, "Z")
	assert.Equal(t, 4, a.size())
	assert.Equal(t, x, a.ensureChild(rootID, "X"), "existing edge is reused")

	a.attach(y, &Leaf{Template: "t", Sources: []string{"s"}})
	assert.Equal(t, 1, a.prune(z), "prune stops at a node with a leaf")
	assert.Equal(t, 3, a.size())

	_, ok := a.child(y, "Z")
	assert.False(t, ok)

	// Freed slots are handed out again.
	w := a.ensureChild(y, "W")
	assert.Equal(t, z, w)
	assert.Equal(t, "W", a.get(w).token)
}

func TestArena_DetachSharedLeaf(t *testing.T) {
	a := newArena()
	b := a.ensureChild(rootID, BotMarker)
	alice := a.ensureChild(b, "alice")
	bob := a.ensureChild(b, "bob")

	leaf := &Leaf{Template: "t", Sources: []string{"s"}}
	a.attach(alice, leaf)
	a.attach(bob, leaf)

	assert.ElementsMatch(t, []NodeID{alice, bob}, a.detach(leaf))
	assert.Nil(t, a.get(alice).leaf)
	assert.Nil(t, a.get(bob).leaf)

	a.prune(alice)
	a.prune(bob)
	assert.Equal(t, 1, a.size())
	assert.Empty(t, a.sortedChildren(rootID))
}

func TestSourceIndex(t *testing.T) {
	s := newSourceIndex()
	s.record("b.aiml", 3, 1, 2)
	s.record("a.aiml", 1)
	s.record("b.aiml", 2)

	assert.True(t, s.has("a.aiml"))
	assert.Equal(t, []string{"a.aiml", "b.aiml"}, s.list())
	assert.Equal(t, []NodeID{1, 2, 3}, s.take("b.aiml"))
	assert.False(t, s.has("b.aiml"))
	assert.Nil(t, s.take("b.aiml"))
}

func TestLeaf_WithdrawReplaysContributions(t *testing.T) {
	r := NewResolver(MergeAppend, nil)
	leaf := newLeaf("a.aiml", "<template>a</template>")
	leaf.contribute(r, "b.aiml", "<template>b</template>")
	leaf.contribute(r, "c.aiml", "<template>c</template>")
	assert.Equal(t, "<template>a b c</template>", leaf.Template)

	assert.True(t, leaf.withdraw(r, "b.aiml"))
	assert.Equal(t, "<template>a c</template>", leaf.Template)
	assert.Equal(t, []string{"a.aiml", "c.aiml"}, leaf.Sources)

	assert.False(t, leaf.withdraw(r, "b.aiml"), "already withdrawn")

	assert.True(t, leaf.withdraw(r, "a.aiml"))
	assert.True(t, leaf.withdraw(r, "c.aiml"))
	assert.Empty(t, leaf.Sources)
}
