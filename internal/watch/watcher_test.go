package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	changed  map[string]int
	unloaded map[string]int
}

func newRecorder() *recorder {
	return &recorder{changed: make(map[string]int), unloaded: make(map[string]int)}
}

func (r *recorder) Changed(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed[path]++
	return nil
}

func (r *recorder) Unload(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unloaded[path]++
	return nil
}

func (r *recorder) counts(path string) (changed, unloaded int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed[path], r.unloaded[path]
}

func startWatcher(t *testing.T, h Handler, specs ...string) *Watcher {
	t.Helper()
	w, err := New(h, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	for _, s := range specs {
		require.NoError(t, w.AddSpec(s))
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	return w
}

func TestRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.aiml")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.Equal(t, dir, Root(filepath.Join(dir, "*.aiml")))
	assert.Equal(t, dir, Root(filepath.Join(dir, "**", "*.aiml")))
	assert.Equal(t, dir, Root(dir))
	assert.Equal(t, dir, Root(file))
	assert.Equal(t, dir, Root(filepath.Join(dir, "not-yet.aiml")))
}

func TestWatcher_CreateModifyRemove(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, rec, filepath.Join(dir, "*.aiml"))

	path := filepath.Join(dir, "greet.aiml")
	require.NoError(t, os.WriteFile(path, []byte("<aiml/>"), 0o644))
	assert.Eventually(t, func() bool {
		c, _ := rec.counts(path)
		return c >= 1
	}, 2*time.Second, 10*time.Millisecond)
	before, _ := rec.counts(path)

	require.NoError(t, os.WriteFile(path, []byte("<aiml></aiml>"), 0o644))
	assert.Eventually(t, func() bool {
		c, _ := rec.counts(path)
		return c > before
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, u := rec.counts(path)
		return u == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_UnchangedContentIsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greet.aiml")
	require.NoError(t, os.WriteFile(path, []byte("<aiml/>"), 0o644))

	rec := newRecorder()
	w := startWatcher(t, rec, dir)
	require.NoError(t, w.Remember(path))

	require.NoError(t, os.WriteFile(path, []byte("<aiml/>"), 0o644))
	other := filepath.Join(dir, "other.aiml")
	require.NoError(t, os.WriteFile(other, []byte("<aiml/>"), 0o644))

	assert.Eventually(t, func() bool {
		c, _ := rec.counts(other)
		return c == 1
	}, 2*time.Second, 10*time.Millisecond)
	c, _ := rec.counts(path)
	assert.Zero(t, c)
}

func TestWatcher_NewDirectoryAndHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, rec, filepath.Join(dir, "**", "*.aiml"))

	swap := filepath.Join(dir, ".greet.aiml.swp")
	require.NoError(t, os.WriteFile(swap, []byte("x"), 0o644))

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	nested := filepath.Join(sub, "nested.aiml")
	require.NoError(t, os.WriteFile(nested, []byte("<aiml/>"), 0o644))

	assert.Eventually(t, func() bool {
		c, _ := rec.counts(nested)
		return c >= 1
	}, 2*time.Second, 10*time.Millisecond)
	c, _ := rec.counts(swap)
	assert.Zero(t, c)
}
