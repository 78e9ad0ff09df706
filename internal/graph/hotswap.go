package graph

import (
	"context"
	"io"
	"sync"

	"github.com/agentic-research/graphmaster/api"
)

// HotSwapGraph is a thread-safe wrapper that allows swapping the underlying
// graph instance. A full rebuild loads into a fresh graph and swaps it in,
// so lookups keep answering from the old graph until the new one is ready.
type HotSwapGraph struct {
	mu      sync.RWMutex
	current Graph
}

var _ Graph = (*HotSwapGraph)(nil)

func NewHotSwapGraph(initial Graph) *HotSwapGraph {
	return &HotSwapGraph{current: initial}
}

// Swap atomically replaces the current graph and returns the old one. The
// caller owns the returned graph and should Close it.
func (h *HotSwapGraph) Swap(newGraph Graph) Graph {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.current
	h.current = newGraph
	return old
}

// Current returns the graph currently answering.
func (h *HotSwapGraph) Current() Graph {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func (h *HotSwapGraph) Insert(ctx context.Context, path Path, template, source string) (Outcome, error) {
	return h.Current().Insert(ctx, path, template, source)
}

func (h *HotSwapGraph) AddCategory(ctx context.Context, c api.Category) (Outcome, error) {
	return h.Current().AddCategory(ctx, c)
}

func (h *HotSwapGraph) Unload(ctx context.Context, source string) error {
	return h.Current().Unload(ctx, source)
}

func (h *HotSwapGraph) Match(ctx context.Context, key Path) (*Match, error) {
	return h.Current().Match(ctx, key)
}

func (h *HotSwapGraph) AddForBot(ctx context.Context, source, botID string) error {
	return h.Current().AddForBot(ctx, source, botID)
}

func (h *HotSwapGraph) Loaded(source string) bool { return h.Current().Loaded(source) }
func (h *HotSwapGraph) Sources() []string         { return h.Current().Sources() }

func (h *HotSwapGraph) SourceNodeCounts(ctx context.Context) (map[string]int, error) {
	return h.Current().SourceNodeCounts(ctx)
}

func (h *HotSwapGraph) CategoryCount() int     { return h.Current().CategoryCount() }
func (h *HotSwapGraph) DuplicateCount() int    { return h.Current().DuplicateCount() }
func (h *HotSwapGraph) CategoryReport() string { return h.Current().CategoryReport() }

func (h *HotSwapGraph) Dump(ctx context.Context, w io.Writer) error {
	return h.Current().Dump(ctx, w)
}

func (h *HotSwapGraph) Reset() error { return h.Current().Reset() }

// Close closes the current graph.
func (h *HotSwapGraph) Close() error { return h.Current().Close() }
