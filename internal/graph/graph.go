package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentic-research/graphmaster/api"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	// ErrNotLoaded is returned by AddForBot when the source has never been
	// loaded for any bot.
	ErrNotLoaded = errors.New("source not loaded")

	// ErrUnknownBot is returned when a bot id is not known to the registry.
	ErrUnknownBot = errors.New("unknown bot")
)

// Graph is the category graph. Backends are selected at configuration time
// (Memory -> SQLite) behind this one interface.
type Graph interface {
	// Insert stores template at path on behalf of source.
	Insert(ctx context.Context, path Path, template, source string) (Outcome, error)
	// AddCategory composes the path for c and inserts it.
	AddCategory(ctx context.Context, c api.Category) (Outcome, error)
	// Unload removes everything source contributed, pruning dead branches.
	Unload(ctx context.Context, source string) error
	// Match returns the best leaf for key, or nil if nothing matches.
	Match(ctx context.Context, key Path) (*Match, error)
	// AddForBot makes every branch loaded from source also answer for botID,
	// sharing the existing leaves.
	AddForBot(ctx context.Context, source, botID string) error
	// Loaded reports whether source currently contributes to the graph.
	Loaded(source string) bool
	// Sources lists the loaded sources.
	Sources() []string
	// SourceNodeCounts reports how many stored nodes each loaded source
	// created or touched.
	SourceNodeCounts(ctx context.Context) (map[string]int, error)

	CategoryCount() int
	DuplicateCount() int
	CategoryReport() string

	// Dump writes every stored path and template as markup that LoadDump
	// can read back.
	Dump(ctx context.Context, w io.Writer) error
	// Reset drops all content and zeroes the counters.
	Reset() error
	Close() error
}

// BotResolver answers whether a bot id exists.
type BotResolver interface {
	Exists(botID string) bool
}

// Options configures a graph backend.
type Options struct {
	// Resolver handles duplicate paths. Defaults to combine.
	Resolver *Resolver
	// NoteEachMerge logs every duplicate path.
	NoteEachMerge bool
	// NotifyInterval triggers OnProgress every N created categories.
	NotifyInterval int
	// OnProgress is called with the running category total. Defaults to
	// an Info log line.
	OnProgress func(total int)
	// MaxKeyTokens bounds composed path length. 0 means unbounded.
	MaxKeyTokens int
	// Bots validates AddForBot targets. Nil accepts any bot id.
	Bots   BotResolver
	Logger *slog.Logger
}

// counters holds the state every backend shares: the monotonic category
// and duplicate counts and progress reporting.
type counters struct {
	backend    string
	opts       Options
	logger     *slog.Logger
	total      atomic.Int64
	duplicates atomic.Int64
}

func newCounters(backend string, opts Options) *counters {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Resolver == nil {
		opts.Resolver = NewResolver(MergeCombine, opts.Logger)
	}
	c := &counters{backend: backend, opts: opts, logger: opts.Logger}
	if c.opts.OnProgress == nil {
		c.opts.OnProgress = func(total int) {
			c.logger.Info(message.NewPrinter(language.English).Sprintf("%d categories loaded so far.", total))
		}
	}
	return c
}

func (c *counters) checkLength(path Path) error {
	if c.opts.MaxKeyTokens > 0 && len(path) > c.opts.MaxKeyTokens {
		return fmt.Errorf("%w: %d tokens, limit %d", ErrKeyTooLong, len(path), c.opts.MaxKeyTokens)
	}
	return nil
}

func (c *counters) recordInsert(path Path, source string, o Outcome) {
	observeInsert(c.backend, o)
	if o == Created {
		total := c.total.Add(1)
		if n := int64(c.opts.NotifyInterval); n > 0 && total%n == 0 {
			c.opts.OnProgress(int(total))
		}
		return
	}
	c.duplicates.Add(1)
	if c.opts.NoteEachMerge {
		c.logger.Info("Duplicate category",
			slog.String("path", path.String()),
			slog.String("source", source),
			slog.String("outcome", o.String()))
	}
}

func (c *counters) reset() {
	c.total.Store(0)
	c.duplicates.Store(0)
}

func (c *counters) CategoryCount() int  { return int(c.total.Load()) }
func (c *counters) DuplicateCount() int { return int(c.duplicates.Load()) }

func (c *counters) CategoryReport() string {
	return message.NewPrinter(language.English).Sprintf("%d total categories currently loaded.", c.CategoryCount())
}

func (c *counters) checkBot(botID string) error {
	if c.opts.Bots != nil && !c.opts.Bots.Exists(botID) {
		return fmt.Errorf("%w: %q", ErrUnknownBot, botID)
	}
	return nil
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Open returns the backend named by backend. sqlitePath is only used by
// the SQLite backend.
func Open(backend, sqlitePath string, opts Options) (Graph, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryGraph(opts), nil
	case BackendSQLite:
		g, err := OpenSQLiteGraph(sqlitePath, opts)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown graph backend %q", backend)
	}
}

// composeCategory builds the path for c. Missing components become "*".
func composeCategory(c api.Category) (Path, error) {
	return ComposePath(c.Pattern, c.That, c.Topic, c.BotID)
}

// -----------------------------------------------------------------------------
// In-memory arena backend
// -----------------------------------------------------------------------------

// MemoryGraph keeps the whole category graph in an index-based arena.
// Lookups share a read lock; each insert, unload or bot extension holds
// the write lock for exactly one operation, so readers never observe a
// half-built path.
type MemoryGraph struct {
	*counters

	mu      sync.RWMutex
	arena   *arena
	sources *sourceIndex
}

// NewMemoryGraph returns an empty in-memory graph.
func NewMemoryGraph(opts Options) *MemoryGraph {
	return &MemoryGraph{
		counters: newCounters("memory", opts),
		arena:    newArena(),
		sources:  newSourceIndex(),
	}
}

// Insert implements Graph.
func (g *MemoryGraph) Insert(ctx context.Context, path Path, template, source string) (Outcome, error) {
	if err := path.Validate(); err != nil {
		return 0, err
	}
	if err := g.checkLength(path); err != nil {
		return 0, err
	}

	g.mu.Lock()
	touched := make([]NodeID, 0, len(path))
	id := rootID
	for _, tok := range path {
		id = g.arena.ensureChild(id, tok)
		touched = append(touched, id)
	}

	n := g.arena.get(id)
	outcome := Created
	if n.leaf == nil {
		g.arena.attach(id, newLeaf(source, template))
	} else {
		outcome = n.leaf.contribute(g.opts.Resolver, source, template)
	}
	g.sources.record(source, touched...)
	g.mu.Unlock()

	g.recordInsert(path, source, outcome)
	return outcome, nil
}

// AddCategory implements Graph.
func (g *MemoryGraph) AddCategory(ctx context.Context, c api.Category) (Outcome, error) {
	path, err := composeCategory(c)
	if err != nil {
		return 0, err
	}
	return g.Insert(ctx, path, c.Template, c.Source)
}

// Unload implements Graph. Unloading a source that is not loaded is a no-op.
func (g *MemoryGraph) Unload(ctx context.Context, source string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := g.sources.take(source)
	if ids == nil {
		return nil
	}
	for _, id := range ids {
		n := g.arena.get(id)
		if !n.live || n.leaf == nil {
			continue
		}
		leaf := n.leaf
		if !leaf.withdraw(g.opts.Resolver, source) {
			continue
		}
		if len(leaf.Sources) == 0 {
			// Terminals added for other bots share the leaf and go with it.
			ids = append(ids, g.arena.detach(leaf)...)
		}
	}
	freed := 0
	for _, id := range ids {
		freed += g.arena.prune(id)
	}
	sourceUnloads.WithLabelValues(g.backend).Inc()
	g.logger.Debug("Unloaded source", slog.String("source", source), slog.Int("nodes_freed", freed))
	return nil
}

// Match implements Graph.
func (g *MemoryGraph) Match(ctx context.Context, key Path) (*Match, error) {
	start := time.Now()
	if err := g.checkLength(key); err != nil {
		observeMatch(g.backend, start, nil, err)
		return nil, err
	}

	g.mu.RLock()
	m, err := search[NodeID](ctx, memoryCursor{g.arena}, rootID, key)
	g.mu.RUnlock()

	observeMatch(g.backend, start, m, err)
	return m, err
}

// AddForBot implements Graph.
func (g *MemoryGraph) AddForBot(ctx context.Context, source, botID string) error {
	if err := g.checkBot(botID); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	bm, ok := g.sources.nodes[source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, source)
	}

	var added []NodeID
	it := bm.Iterator()
	for it.HasNext() {
		id := NodeID(it.Next())
		n := g.arena.get(id)
		if !n.live || n.leaf == nil || !n.leaf.hasSource(source) || n.token == botID {
			continue
		}
		if g.arena.get(n.parent).token != BotMarker {
			continue
		}
		if existing, ok := g.arena.child(n.parent, botID); ok {
			if other := g.arena.get(existing).leaf; other != nil {
				if other != n.leaf {
					g.duplicates.Add(1)
					g.logger.Warn("Bot already has a category on this path",
						slog.String("source", source), slog.String("bot", botID))
				}
				continue
			}
		}
		leaf := n.leaf
		c := g.arena.ensureChild(n.parent, botID)
		g.arena.attach(c, leaf)
		added = append(added, c)
	}
	g.sources.record(source, added...)
	return nil
}

// Loaded implements Graph.
func (g *MemoryGraph) Loaded(source string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sources.has(source)
}

// Sources implements Graph.
func (g *MemoryGraph) Sources() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sources.list()
}

// SourceNodeCounts implements Graph.
func (g *MemoryGraph) SourceNodeCounts(ctx context.Context) (map[string]int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sources.counts(func(id NodeID) bool {
		return int(id) < len(g.arena.nodes) && g.arena.get(id).live
	}), nil
}

// NodeCount returns the number of live nodes, root included.
func (g *MemoryGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.arena.size()
}

// Dump implements Graph.
func (g *MemoryGraph) Dump(ctx context.Context, w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return writeDump[NodeID](ctx, memoryCursor{g.arena}, rootID, w)
}

// Reset implements Graph.
func (g *MemoryGraph) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.arena = newArena()
	g.sources = newSourceIndex()
	g.reset()
	return nil
}

// Close implements Graph. The memory backend holds no external resources.
func (g *MemoryGraph) Close() error { return nil }
