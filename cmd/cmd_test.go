package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRules = `<aiml version="1.0.1">
  <category><pattern>HELLO</pattern><template>Hi there</template></category>
  <category><pattern>MY NAME IS *</pattern><template>Nice to meet you</template></category>
  <topic name="FOOD">
    <category><pattern>YES</pattern><that>DO YOU LIKE *</that><template>Great</template></category>
  </topic>
</aiml>`

func writeProject(t *testing.T) string {
	t.Helper()
	return writeProjectWith(t, "")
}

// writeProjectWith adds graphYAML to the graph section of the config.
func writeProjectWith(t *testing.T, graphYAML string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules", "greet.aiml"), []byte(testRules), 0o644))
	cfg := "graph:\n  note_each_merge: false\n" + graphYAML + "bots:\n  - id: alice\n    files: [\"rules/*.aiml\"]\n"
	path := filepath.Join(dir, "graphmaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, verbose, jsonLogs = "", false, false
	matchThat, matchTopic, matchBot, matchReload = "", "", "", false
	dumpOutput, dumpLoad = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestMatchCommand(t *testing.T) {
	cfg := writeProject(t)

	out, err := run(t, "match", "--config", cfg, "my", "name", "is", "Ada", "Lovelace")
	require.NoError(t, err)
	assert.Contains(t, out, "Nice to meet you")
	assert.Contains(t, out, "star[1]: ADA LOVELACE")

	out, err = run(t, "match", "--config", cfg, "--that", "do you like pizza", "--topic", "food", "yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Great")
	assert.Contains(t, out, "thatstar[1]: PIZZA")

	out, err = run(t, "match", "--config", cfg, "goodbye")
	require.NoError(t, err)
	assert.Contains(t, out, "no match")

	_, err = run(t, "match", "--config", cfg, "--bot", "nobody knows", "hello")
	assert.Error(t, err)
}

func TestDumpCommand(t *testing.T) {
	cfg := writeProject(t)
	dumpFile := filepath.Join(t.TempDir(), "graph.xml")

	_, err := run(t, "dump", "--config", cfg, "--output", dumpFile)
	require.NoError(t, err)
	data, err := os.ReadFile(dumpFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "MY NAME IS *")

	// A dump loaded back dumps the same way.
	out, err := run(t, "dump", "--config", cfg, "--load", dumpFile)
	require.NoError(t, err)
	assert.Equal(t, string(data), out)
}

func TestSourcesCommand(t *testing.T) {
	cfg := writeProject(t)
	rules := filepath.Join(filepath.Dir(cfg), "rules", "greet.aiml")

	out, err := run(t, "sources", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "SOURCE")
	assert.Contains(t, out, rules)
	assert.Contains(t, out, "[alice]")
}

func TestSQLiteBackendCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "graph.db")
	cfg := writeProjectWith(t, "  backend: sqlite\n  sqlite_path: "+db+"\n")

	out, err := run(t, "match", "--config", cfg, "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Hi there")

	// The second run opens the persisted graph and shares what is stored.
	out, err = run(t, "match", "--config", cfg, "my", "name", "is", "Ada")
	require.NoError(t, err)
	assert.Contains(t, out, "star[1]: ADA")

	out, err = run(t, "match", "--config", cfg, "--reload", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Hi there")

	out, err = run(t, "sources", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(filepath.Dir(cfg), "rules", "greet.aiml"))
}
