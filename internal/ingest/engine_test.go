package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentic-research/graphmaster/internal/config"
	"github.com/agentic-research/graphmaster/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetings = `<aiml version="1.0.1">
  <category><pattern>HELLO</pattern><template>Hi there</template></category>
  <category><pattern>BYE *</pattern><template>See you</template></category>
</aiml>`

func writeRules(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func rules(patterns ...string) string {
	s := "<aiml>"
	for i := 0; i+1 < len(patterns); i += 2 {
		s += "<category><pattern>" + patterns[i] + "</pattern><template>" + patterns[i+1] + "</template></category>"
	}
	return s + "</aiml>"
}

func newTestEngine(t *testing.T, bots ...config.BotConfig) *Engine {
	t.Helper()
	return newEngineWith(t, func(*config.Config) {}, bots...)
}

func newEngineWith(t *testing.T, configure func(*config.Config), bots ...config.BotConfig) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultConfig()
	cfg.Graph.NoteEachMerge = false
	cfg.Graph.MaxKeyTokens = 64
	cfg.Load.NoteEachLoad = true
	cfg.Bots = bots
	configure(cfg)
	require.NoError(t, cfg.Validate())

	reg, err := NewRegistry(cfg, logger)
	require.NoError(t, err)
	g, err := cfg.OpenGraph(reg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return NewEngine(g, reg, cfg, logger)
}

func template(t *testing.T, e *Engine, input, botID string) string {
	t.Helper()
	m, err := e.Match(context.Background(), input, "", "", botID)
	require.NoError(t, err)
	if m == nil {
		return ""
	}
	return m.Template
}

func TestNewRegistry(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Bots = []config.BotConfig{{ID: "alice", Properties: map[string]string{"name": "Alice"}, PredicateEmptyDefault: "dunno"}}
	reg, err := NewRegistry(cfg, nil)
	require.NoError(t, err)

	b, ok := reg.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "Alice", b.PropertyValue("name"))
	assert.Equal(t, "dunno", b.PropertyValue("age"))

	cfg.Bots = append(cfg.Bots, config.BotConfig{ID: "alice"})
	_, err = NewRegistry(cfg, nil)
	assert.Error(t, err)
}

func TestEngine_Load(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "greet.aiml")
	writeRules(t, path, greetings)

	e := newTestEngine(t, config.BotConfig{ID: "alice"}, config.BotConfig{ID: "bob"})

	n, err := e.Load(ctx, path, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, template(t, e, "hello", "alice"), "Hi there")
	assert.Contains(t, template(t, e, "bye now", "alice"), "See you")
	assert.Empty(t, template(t, e, "hello", "bob"))

	alice, _ := e.Bots.Get("alice")
	assert.True(t, alice.HasLoaded(path))

	t.Run("shared with a second bot", func(t *testing.T) {
		n, err := e.Load(ctx, path, "bob")
		require.NoError(t, err)
		assert.Zero(t, n, "nothing parsed")
		assert.Equal(t, 2, e.Graph.CategoryCount())
		assert.Contains(t, template(t, e, "hello", "bob"), "Hi there")

		bob, _ := e.Bots.Get("bob")
		assert.True(t, bob.HasLoaded(path))
	})

	t.Run("reload keeps sharing", func(t *testing.T) {
		writeRules(t, path, rules("HELLO", "Howdy"))
		n, err := e.Load(ctx, path, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Contains(t, template(t, e, "hello", "alice"), "Howdy")
		assert.Contains(t, template(t, e, "hello", "bob"), "Howdy")
		assert.Empty(t, template(t, e, "bye now", "alice"))
		assert.Empty(t, template(t, e, "bye now", "bob"))
	})

	t.Run("unload", func(t *testing.T) {
		require.NoError(t, e.Unload(ctx, path))
		assert.Empty(t, template(t, e, "hello", "alice"))
		assert.Empty(t, template(t, e, "hello", "bob"))
		assert.False(t, e.Graph.Loaded(path))
		assert.Empty(t, e.Bots.LoadersOf(path))
	})
}

func TestEngine_LoadErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeRules(t, filepath.Join(dir, "a.aiml"), rules("ALPHA", "a"))
	writeRules(t, filepath.Join(dir, "b.aiml"), "<aiml><category>")
	writeRules(t, filepath.Join(dir, "c.aiml"), rules("GAMMA", "c", strings.Repeat("LONG ", 80), "bad"))

	e := newTestEngine(t, config.BotConfig{ID: "alice"})

	_, err := e.Load(ctx, filepath.Join(dir, "a.aiml"), "nobody")
	assert.ErrorIs(t, err, graph.ErrUnknownBot)

	_, err = e.Load(ctx, filepath.Join(dir, "missing.aiml"), "alice")
	assert.Error(t, err)

	n, err := e.Load(ctx, filepath.Join(dir, "*.aiml"), "alice")
	assert.Error(t, err, "broken file is reported")
	assert.Equal(t, 2, n, "rejected category is skipped")
	assert.Contains(t, template(t, e, "alpha", "alice"), "a")
	assert.Contains(t, template(t, e, "gamma", "alice"), "c")

	alice, _ := e.Bots.Get("alice")
	assert.Equal(t, []string{filepath.Join(dir, "a.aiml"), filepath.Join(dir, "c.aiml")}, alice.LoadedSources())
}

func TestEngine_LoadAllAndChanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared", "common.aiml")
	own := filepath.Join(dir, "bob", "own.aiml")
	writeRules(t, shared, rules("HELLO", "Hi"))
	writeRules(t, own, rules("WHO ARE YOU", "Bob"))

	e := newTestEngine(t,
		config.BotConfig{ID: "alice", Files: []string{filepath.Join(dir, "shared")}},
		config.BotConfig{ID: "bob", Files: []string{filepath.Join(dir, "shared", "*.aiml"), filepath.Join(dir, "bob", "**", "*.aiml")}},
	)

	n, err := e.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, template(t, e, "hello", "alice"), "Hi")
	assert.Contains(t, template(t, e, "hello", "bob"), "Hi")
	assert.Contains(t, template(t, e, "who are you", "bob"), "Bob")
	assert.Empty(t, template(t, e, "who are you", "alice"))

	t.Run("modified file", func(t *testing.T) {
		writeRules(t, shared, rules("HELLO", "Hey"))
		require.NoError(t, e.Changed(ctx, shared))
		assert.Contains(t, template(t, e, "hello", "alice"), "Hey")
		assert.Contains(t, template(t, e, "hello", "bob"), "Hey")
	})

	t.Run("new file under a glob", func(t *testing.T) {
		added := filepath.Join(dir, "bob", "more", "extra.aiml")
		writeRules(t, added, rules("WHAT IS UP", "Not much"))
		require.NoError(t, e.Changed(ctx, added))
		assert.Contains(t, template(t, e, "what is up", "bob"), "Not much")
		assert.Empty(t, template(t, e, "what is up", "alice"))
	})

	t.Run("unrelated file", func(t *testing.T) {
		other := filepath.Join(t.TempDir(), "other.aiml")
		writeRules(t, other, rules("NOPE", "x"))
		require.NoError(t, e.Changed(ctx, other))
		assert.False(t, e.Graph.Loaded(other))
	})
}

func TestEngine_Match(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slow.aiml")
	writeRules(t, path, rules("* * * * NEVER", "x"))
	e := newTestEngine(t, config.BotConfig{ID: "alice"})
	_, err := e.Load(context.Background(), path, "alice")
	require.NoError(t, err)

	_, err = e.Match(context.Background(), "hello", "", "", "two words")
	assert.ErrorIs(t, err, graph.ErrMalformedPath)

	e.Config.Graph.ResponseTimeout = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Match(ctx, strings.Repeat("w ", 40), "", "", "alice")
	assert.ErrorIs(t, err, graph.ErrMatchTimeout)
}

func TestEngine_Rebuild(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.aiml")
	b := filepath.Join(dir, "b.aiml")
	writeRules(t, a, rules("HELLO", "One"))
	writeRules(t, b, rules("HELLO", "Two", "BYE", "Later"))

	e := newTestEngine(t,
		config.BotConfig{ID: "alice", Files: []string{a, b}},
		config.BotConfig{ID: "bob", Files: []string{b}},
	)
	old := e.Graph
	hot := graph.NewHotSwapGraph(old)
	e.Graph = hot

	_, err := e.LoadAll(ctx)
	require.NoError(t, err)
	sequential := template(t, e, "hello", "alice")

	writeRules(t, filepath.Join(dir, "ignored.aiml"), rules("X", "y"))
	fresh, err := e.Config.OpenGraph(e.Bots, e.Logger)
	require.NoError(t, err)

	n, err := e.Rebuild(ctx, hot, fresh)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Same(t, fresh, hot.Current())

	assert.Equal(t, sequential, template(t, e, "hello", "alice"), "same merge order as a sequential load")
	assert.Contains(t, template(t, e, "hello", "bob"), "Two")
	assert.Contains(t, template(t, e, "bye", "bob"), "Later")

	alice, _ := e.Bots.Get("alice")
	bob, _ := e.Bots.Get("bob")
	assert.Equal(t, []string{a, b}, alice.LoadedSources())
	assert.Equal(t, []string{b}, bob.LoadedSources())
}

func TestEngine_RebuildCancelled(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.aiml")
	writeRules(t, a, rules("HELLO", "One"))

	e := newTestEngine(t, config.BotConfig{ID: "alice", Files: []string{a}})
	old := e.Graph
	hot := graph.NewHotSwapGraph(old)
	e.Graph = hot

	fresh, err := e.Config.OpenGraph(e.Bots, e.Logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Rebuild(ctx, hot, fresh)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Same(t, old, hot.Current(), "not swapped")
}

func TestEngine_Reload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "greet.aiml")
	writeRules(t, path, greetings)

	e := newTestEngine(t, config.BotConfig{ID: "alice", Files: []string{path}})
	_, err := e.LoadAll(ctx)
	require.NoError(t, err)

	writeRules(t, path, rules("HELLO", "Again"))
	n, err := e.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, e.Graph.CategoryCount())
	assert.Contains(t, template(t, e, "hello", "alice"), "Again")
	assert.Empty(t, template(t, e, "bye you", "alice"))
}

func TestEngine_SQLiteBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	greet := filepath.Join(dir, "rules", "greet.aiml")
	extra := filepath.Join(dir, "rules", "extra.aiml")
	writeRules(t, greet, greetings)
	writeRules(t, extra, rules("HELLO", "Howdy"))

	e := newEngineWith(t, func(cfg *config.Config) {
		cfg.Graph.Backend = graph.BackendSQLite
		cfg.Graph.SQLitePath = filepath.Join(dir, "graph.db")
	}, config.BotConfig{ID: "alice"}, config.BotConfig{ID: "bob"})

	n, err := e.Load(ctx, filepath.Join(dir, "rules", "*.aiml"), "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = e.Load(ctx, greet, "bob")
	require.NoError(t, err)

	tmpl := template(t, e, "hello", "alice")
	assert.Contains(t, tmpl, "Hi there")
	assert.Contains(t, tmpl, "Howdy")
	assert.Contains(t, template(t, e, "hello", "bob"), "Hi there")

	t.Run("changed", func(t *testing.T) {
		writeRules(t, greet, rules("HELLO", "Welcome back"))
		require.NoError(t, e.Changed(ctx, greet))

		tmpl := template(t, e, "hello", "alice")
		assert.Contains(t, tmpl, "Welcome back")
		assert.Contains(t, tmpl, "Howdy")
		assert.NotContains(t, tmpl, "Hi there")
		assert.Empty(t, template(t, e, "bye now", "alice"))
		assert.Contains(t, template(t, e, "hello", "bob"), "Welcome back")
	})

	t.Run("unload", func(t *testing.T) {
		require.NoError(t, e.Unload(ctx, extra))
		assert.False(t, e.Graph.Loaded(extra))

		tmpl := template(t, e, "hello", "alice")
		assert.Contains(t, tmpl, "Welcome back")
		assert.NotContains(t, tmpl, "Howdy")
		assert.NotContains(t, tmpl, "random")
	})
}

func TestEngine_BotPropertyInPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "self.aiml")
	writeRules(t, path, rules(`ARE YOU <bot name="name"/>`, "Yes"))

	e := newTestEngine(t, config.BotConfig{ID: "alice", Properties: map[string]string{"name": "Alice"}})
	_, err := e.Load(context.Background(), path, "alice")
	require.NoError(t, err)

	assert.Contains(t, template(t, e, "are you alice", "alice"), "Yes")
	assert.Empty(t, template(t, e, "are you", "alice"))
}
