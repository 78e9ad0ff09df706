package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("<aiml/>"), 0o644))
}

func TestExpand(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.aiml")
	b := filepath.Join(dir, "sub", "b.aiml")
	c := filepath.Join(dir, "sub", "deep", "c.AIML")
	txt := filepath.Join(dir, "notes.txt")
	for _, p := range []string{a, b, c, txt} {
		touch(t, p)
	}

	t.Run("glob", func(t *testing.T) {
		files, err := Expand(filepath.Join(dir, "*.aiml"))
		require.NoError(t, err)
		assert.Equal(t, []string{a}, files)
	})

	t.Run("doublestar glob", func(t *testing.T) {
		files, err := Expand(filepath.Join(dir, "**", "*.aiml"))
		require.NoError(t, err)
		assert.Equal(t, []string{a, b}, files)
	})

	t.Run("glob skips directories", func(t *testing.T) {
		files, err := Expand(filepath.Join(dir, "*"))
		require.NoError(t, err)
		assert.Equal(t, []string{a, txt}, files)
	})

	t.Run("directory", func(t *testing.T) {
		files, err := Expand(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{a, b, c}, files)
	})

	t.Run("single file", func(t *testing.T) {
		files, err := Expand(txt)
		require.NoError(t, err)
		assert.Equal(t, []string{txt}, files)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Expand(filepath.Join(dir, "missing.aiml"))
		assert.Error(t, err)
	})

	t.Run("glob without matches", func(t *testing.T) {
		files, err := Expand(filepath.Join(dir, "*.xml"))
		require.NoError(t, err)
		assert.Empty(t, files)
	})
}

func TestMatches(t *testing.T) {
	tests := []struct {
		spec string
		path string
		want bool
	}{
		{"/rules/*.aiml", "/rules/a.aiml", true},
		{"/rules/*.aiml", "/rules/sub/a.aiml", false},
		{"/rules/**/*.aiml", "/rules/sub/a.aiml", true},
		{"/rules/a.aiml", "/rules/a.aiml", true},
		{"/rules/a.aiml", "/rules/b.aiml", false},
		{"/rules", "/rules/sub/a.aiml", true},
		{"/rules", "/rules/a.txt", false},
		{"/rules", "/rules2/a.aiml", false},
		{"/rules/", "/rules/./a.aiml", true},
	}
	for _, tt := range tests {
		t.Run(tt.spec+"~"+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.spec, tt.path))
		})
	}
}
