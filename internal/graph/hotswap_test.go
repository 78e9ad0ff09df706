package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotSwapGraph_SwapReturnsOld(t *testing.T) {
	old := NewMemoryGraph(Options{})
	insert(t, old, "HELLO", "<template>old</template>", "a.aiml")

	h := NewHotSwapGraph(old)
	m := lookup(t, h, "hello", "alice")
	require.NotNil(t, m)
	assert.Equal(t, "<template>old</template>", m.Template)

	fresh := NewMemoryGraph(Options{})
	insert(t, fresh, "HELLO", "<template>new</template>", "a.aiml")

	prev := h.Swap(fresh)
	assert.Same(t, old, prev)
	assert.Same(t, fresh, h.Current())

	m = lookup(t, h, "hello", "alice")
	require.NotNil(t, m)
	assert.Equal(t, "<template>new</template>", m.Template)
	require.NoError(t, prev.Close())
}

func TestHotSwapGraph_Delegates(t *testing.T) {
	h := NewHotSwapGraph(NewMemoryGraph(Options{}))
	ctx := context.Background()

	insert(t, h, "HELLO", "<template>A</template>", "a.aiml")
	insert(t, h, "HELLO", "<template>B</template>", "b.aiml")
	assert.Equal(t, 1, h.CategoryCount())
	assert.Equal(t, 1, h.DuplicateCount())
	assert.True(t, h.Loaded("a.aiml"))
	assert.Equal(t, []string{"a.aiml", "b.aiml"}, h.Sources())
	assert.Contains(t, h.CategoryReport(), "1 total")

	require.NoError(t, h.AddForBot(ctx, "a.aiml", "bob"))
	assert.NotNil(t, lookup(t, h, "hello", "bob"))

	require.NoError(t, h.Unload(ctx, "a.aiml"))
	require.NoError(t, h.Unload(ctx, "b.aiml"))
	assert.Nil(t, lookup(t, h, "hello", "alice"))

	require.NoError(t, h.Reset())
	assert.Equal(t, 0, h.CategoryCount())
	require.NoError(t, h.Close())
}
