package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentic-research/graphmaster/api"
	"github.com/agentic-research/graphmaster/internal/aiml"
	"github.com/agentic-research/graphmaster/internal/bot"
	"github.com/agentic-research/graphmaster/internal/config"
	"github.com/agentic-research/graphmaster/internal/graph"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Engine drives loading rule files into a category graph on behalf of
// bots. Load, unload and rebuild decisions are serialized; lookups go
// straight to the graph.
type Engine struct {
	Graph  graph.Graph
	Bots   *bot.Registry
	Config *config.Config
	Logger *slog.Logger

	reader aiml.Reader
	mu     sync.Mutex
}

func NewEngine(g graph.Graph, bots *bot.Registry, cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		Graph:  g,
		Bots:   bots,
		Config: cfg,
		Logger: logger,
		reader: aiml.Reader{Namespace: cfg.Graph.Namespace, Logger: logger},
	}
	if bots != nil {
		e.reader.Properties = bots
	}
	return e
}

// NewRegistry registers every bot named in cfg.
func NewRegistry(cfg *config.Config, logger *slog.Logger) (*bot.Registry, error) {
	reg := bot.NewRegistry(logger)
	for _, bc := range cfg.Bots {
		b := bot.New(bc.ID, bc.PredicateEmptyDefault)
		b.SetProperties(bc.Properties)
		if err := reg.Add(b); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (e *Engine) bot(id string) (*bot.Bot, error) {
	b, ok := e.Bots.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", graph.ErrUnknownBot, id)
	}
	return b, nil
}

// Load loads every rule file named by spec for botID and returns the
// number of categories inserted. A file that fails to parse is reported
// and skipped; the others still load.
func (e *Engine) Load(ctx context.Context, spec, botID string) (int, error) {
	b, err := e.bot(botID)
	if err != nil {
		return 0, err
	}
	files, err := Expand(spec)
	if err != nil {
		return 0, fmt.Errorf("expand %s: %w", spec, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	total := 0
	var errs []error
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := e.loadFile(ctx, f, b)
		total += n
		if err != nil {
			e.Logger.Error("Failed to load rule file", slog.String("path", f), slog.String("bot", botID), slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// loadFile brings path into the graph for b. A file b has already loaded
// is reloaded; a file another bot has loaded is shared with b rather than
// parsed again.
func (e *Engine) loadFile(ctx context.Context, path string, b *bot.Bot) (int, error) {
	if b.HasLoaded(path) {
		others := e.Bots.LoadersOf(path)
		if err := e.unload(ctx, path); err != nil {
			return 0, err
		}
		n, err := e.parseAndInsert(ctx, path, b)
		if err != nil {
			return n, err
		}
		for _, o := range others {
			if o.ID != b.ID {
				if err := e.share(ctx, path, o); err != nil {
					return n, err
				}
			}
		}
		return n, nil
	}

	if e.Graph.Loaded(path) {
		return 0, e.share(ctx, path, b)
	}
	return e.parseAndInsert(ctx, path, b)
}

func (e *Engine) share(ctx context.Context, path string, b *bot.Bot) error {
	if err := e.Graph.AddForBot(ctx, path, b.ID); err != nil {
		return err
	}
	b.MarkLoaded(path)
	if e.Config.Load.NoteEachLoad {
		e.Logger.Info("Shared rule file with bot", slog.String("path", path), slog.String("bot", b.ID))
	}
	return nil
}

func (e *Engine) parseAndInsert(ctx context.Context, path string, b *bot.Bot) (int, error) {
	start := time.Now()
	cats, err := e.reader.ParseFile(path, b.ID)
	if err != nil {
		return 0, err
	}
	n := e.insert(ctx, e.Graph, path, cats)
	b.MarkLoaded(path)
	if e.Config.Load.NoteEachLoad {
		e.Logger.Info("Loaded rule file",
			slog.String("path", path),
			slog.String("bot", b.ID),
			slog.Int("categories", n),
			slog.Duration("took", time.Since(start)))
	}
	return n, nil
}

// Unload removes path from the graph for every bot.
func (e *Engine) Unload(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unload(ctx, path)
}

func (e *Engine) unload(ctx context.Context, path string) error {
	if err := e.Graph.Unload(ctx, path); err != nil {
		return err
	}
	for _, b := range e.Bots.LoadersOf(path) {
		b.ForgetLoaded(path)
	}
	if e.Config.Load.NoteEachLoad {
		e.Logger.Info("Unloaded rule file", slog.String("path", path))
	}
	return nil
}

// Changed reloads path after it was created or modified on disk. Every bot
// that had loaded it, or whose configured files name it, gets it again.
func (e *Engine) Changed(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var interested []*bot.Bot
	for _, id := range e.Bots.IDs() {
		b, _ := e.Bots.Get(id)
		if b.HasLoaded(path) || e.wants(id, path) {
			interested = append(interested, b)
		}
	}
	if len(interested) == 0 {
		return nil
	}

	if err := e.unload(ctx, path); err != nil {
		return err
	}
	var errs []error
	for _, b := range interested {
		if _, err := e.loadFile(ctx, path, b); err != nil {
			errs = append(errs, fmt.Errorf("reload %s for %s: %w", path, b.ID, err))
		}
	}
	return errors.Join(errs...)
}

// wants reports whether the configuration of botID names path.
func (e *Engine) wants(botID, path string) bool {
	bc, ok := e.Config.Bot(botID)
	if !ok {
		return false
	}
	for _, spec := range bc.Files {
		if Matches(spec, path) {
			return true
		}
	}
	return false
}

// LoadAll loads the configured files of every configured bot.
func (e *Engine) LoadAll(ctx context.Context) (int, error) {
	start := time.Now()
	total := 0
	var errs []error
	for _, bc := range e.Config.Bots {
		for _, spec := range bc.Files {
			n, err := e.Load(ctx, spec, bc.ID)
			total += n
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	e.Logger.Info(message.NewPrinter(language.English).Sprintf("%d categories loaded in %.2f seconds.", total, time.Since(start).Seconds()))
	e.Logger.Info(e.Graph.CategoryReport())
	return total, errors.Join(errs...)
}

// Reload drops all content and loads the configured files again into the
// same graph. Lookups see a partial graph until it finishes; Rebuild avoids
// that when a second graph can be afforded.
func (e *Engine) Reload(ctx context.Context) (int, error) {
	e.mu.Lock()
	err := e.Graph.Reset()
	if err == nil {
		e.Bots.ForgetAll()
	}
	e.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("reset graph: %w", err)
	}
	return e.LoadAll(ctx)
}

// Match composes the lookup key and searches the graph, bounded by the
// configured response timeout.
func (e *Engine) Match(ctx context.Context, input, that, topic, botID string) (*graph.Match, error) {
	key, err := graph.ComposePath(input, that, topic, botID)
	if err != nil {
		return nil, err
	}
	if d := e.Config.Graph.ResponseTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return e.Graph.Match(ctx, key)
}

// job is one rule file to load for one bot during a rebuild.
type job struct {
	path  string
	botID string
	cats  []api.Category
	err   error
	owner bool // first job for path; later jobs share its leaves
}

// Rebuild loads every configured file into fresh and swaps it in for the
// graph hot currently serves. Files are parsed in parallel, then inserted
// in configuration order so merges come out the same as a sequential load.
// Lookups keep hitting the old graph until the swap; the old graph is
// closed afterwards.
func (e *Engine) Rebuild(ctx context.Context, hot *graph.HotSwapGraph, fresh graph.Graph) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	var jobs []*job
	seen := make(map[string]bool)
	for _, bc := range e.Config.Bots {
		if _, err := e.bot(bc.ID); err != nil {
			return 0, err
		}
		for _, spec := range bc.Files {
			files, err := Expand(spec)
			if err != nil {
				e.Logger.Error("Failed to expand file spec", slog.String("spec", spec), slog.String("error", err.Error()))
				continue
			}
			for _, f := range files {
				j := &job{path: f, botID: bc.ID, owner: !seen[f]}
				seen[f] = true
				jobs = append(jobs, j)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Config.Load.Parallelism)
	for _, j := range jobs {
		if !j.owner {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			j.cats, j.err = e.reader.ParseFile(j.path, j.botID)
			return nil // parse errors are per file
		})
	}
	if err := g.Wait(); err != nil {
		_ = fresh.Close() // ignore error
		return 0, err
	}

	total := 0
	loaded := make(map[string]bool)
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			_ = fresh.Close() // ignore error
			return 0, err
		}
		switch {
		case j.owner && j.err != nil:
			e.Logger.Error("Failed to load rule file", slog.String("path", j.path), slog.String("bot", j.botID), slog.String("error", j.err.Error()))
		case j.owner:
			total += e.insert(ctx, fresh, j.path, j.cats)
			loaded[j.path] = true
		case loaded[j.path] && fresh.Loaded(j.path):
			if err := fresh.AddForBot(ctx, j.path, j.botID); err != nil {
				e.Logger.Error("Failed to share rule file", slog.String("path", j.path), slog.String("bot", j.botID), slog.String("error", err.Error()))
			}
		}
	}

	old := hot.Swap(fresh)
	e.Bots.ForgetAll()
	for _, j := range jobs {
		if loaded[j.path] {
			b, _ := e.Bots.Get(j.botID)
			b.MarkLoaded(j.path)
		}
	}
	if err := old.Close(); err != nil {
		e.Logger.Warn("Failed to close replaced graph", slog.String("error", err.Error()))
	}

	e.Logger.Info("Rebuilt category graph",
		slog.Int("files", len(loaded)),
		slog.Int("categories", total),
		slog.Duration("took", time.Since(start)))
	return total, nil
}

// insert feeds cats into g. A category the graph rejects is reported and
// skipped.
func (e *Engine) insert(ctx context.Context, g graph.Graph, path string, cats []api.Category) int {
	n := 0
	for _, c := range cats {
		if _, err := g.AddCategory(ctx, c); err != nil {
			e.Logger.Warn("Skipped category",
				slog.String("path", path),
				slog.String("pattern", c.Pattern),
				slog.String("error", err.Error()))
			continue
		}
		n++
	}
	return n
}
