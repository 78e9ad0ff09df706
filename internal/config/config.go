// Package config provides configuration loading and management for
// graphmaster.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentic-research/graphmaster/internal/graph"
	"gopkg.in/yaml.v3"
)

// Config represents the complete graphmaster configuration
type Config struct {
	Graph GraphConfig `yaml:"graph"`
	Load  LoadConfig  `yaml:"load"`
	Watch WatchConfig `yaml:"watch"`
	Bots  []BotConfig `yaml:"bots,omitempty"`
}

// GraphConfig configures the category graph
type GraphConfig struct {
	// Backend selects the graph implementation: memory or sqlite.
	Backend string `yaml:"backend"`
	// SQLitePath is the database file used by the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
	// MergePolicy handles duplicate paths: overwrite, combine, append or skip.
	MergePolicy string `yaml:"merge_policy"`
	// AppendSeparator goes between templates joined by the append policy.
	AppendSeparator string `yaml:"append_separator"`
	// NoteEachMerge logs every duplicate path.
	NoteEachMerge bool `yaml:"note_each_merge"`
	// NotifyInterval logs progress every N categories (0 disables).
	NotifyInterval int `yaml:"notify_interval"`
	// ResponseTimeout bounds a single lookup (0 disables).
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	// MaxKeyTokens bounds composed path length (0 disables).
	MaxKeyTokens int `yaml:"max_key_tokens"`
	// Namespace is the markup namespace rule files are expected to use.
	Namespace string `yaml:"namespace"`
}

// LoadConfig configures rule file loading
type LoadConfig struct {
	// NoteEachLoad logs every loaded file.
	NoteEachLoad bool `yaml:"note_each_load"`
	// Parallelism is how many files a rebuild parses at once.
	Parallelism int `yaml:"parallelism"`
}

// WatchConfig configures rule file watching
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
	// Debounce is how long to collect changes before reloading.
	Debounce time.Duration `yaml:"debounce"`
}

// BotConfig configures one bot
type BotConfig struct {
	ID string `yaml:"id"`
	// Files are rule file paths or doublestar globs.
	Files      []string          `yaml:"files"`
	Properties map[string]string `yaml:"properties,omitempty"`
	// PredicateEmptyDefault is reported for unset properties.
	PredicateEmptyDefault string `yaml:"predicate_empty_default"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Graph: GraphConfig{
			Backend:         graph.BackendMemory,
			MergePolicy:     string(graph.MergeCombine),
			AppendSeparator: " ",
			NoteEachMerge:   true,
			NotifyInterval:  1000,
			ResponseTimeout: time.Second,
			MaxKeyTokens:    1024,
			Namespace:       graph.DefaultNamespace,
		},
		Load: LoadConfig{
			NoteEachLoad: false,
			Parallelism:  4,
		},
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: 2 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Graph.Backend {
	case graph.BackendMemory:
	case graph.BackendSQLite:
		if c.Graph.SQLitePath == "" {
			return fmt.Errorf("graph.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("graph.backend must be %s or %s, got %q", graph.BackendMemory, graph.BackendSQLite, c.Graph.Backend)
	}
	if _, err := graph.ParseMergePolicy(c.Graph.MergePolicy); err != nil {
		return fmt.Errorf("graph.merge_policy: %w", err)
	}
	if c.Graph.NotifyInterval < 0 {
		return fmt.Errorf("graph.notify_interval must not be negative")
	}
	if c.Graph.ResponseTimeout < 0 {
		return fmt.Errorf("graph.response_timeout must not be negative")
	}
	if c.Graph.MaxKeyTokens < 0 {
		return fmt.Errorf("graph.max_key_tokens must not be negative")
	}
	if c.Load.Parallelism < 1 {
		return fmt.Errorf("load.parallelism must be at least 1")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}

	seen := make(map[string]bool, len(c.Bots))
	for i, b := range c.Bots {
		if b.ID == "" || strings.ContainsAny(b.ID, " \t\r\n") {
			return fmt.Errorf("bots[%d].id %q must be a single non-empty word", i, b.ID)
		}
		if seen[b.ID] {
			return fmt.Errorf("bots[%d].id %q is duplicated", i, b.ID)
		}
		seen[b.ID] = true
	}
	return nil
}

// GraphOptions builds the graph options described by the configuration.
func (c *Config) GraphOptions(bots graph.BotResolver, logger *slog.Logger) (graph.Options, error) {
	policy, err := graph.ParseMergePolicy(c.Graph.MergePolicy)
	if err != nil {
		return graph.Options{}, err
	}
	resolver := graph.NewResolver(policy, logger)
	resolver.Separator = c.Graph.AppendSeparator
	return graph.Options{
		Resolver:       resolver,
		NoteEachMerge:  c.Graph.NoteEachMerge,
		NotifyInterval: c.Graph.NotifyInterval,
		MaxKeyTokens:   c.Graph.MaxKeyTokens,
		Bots:           bots,
		Logger:         logger,
	}, nil
}

// OpenGraph opens the configured backend.
func (c *Config) OpenGraph(bots graph.BotResolver, logger *slog.Logger) (graph.Graph, error) {
	opts, err := c.GraphOptions(bots, logger)
	if err != nil {
		return nil, err
	}
	return graph.Open(c.Graph.Backend, c.Graph.SQLitePath, opts)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := loadInto(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

// loadInto decodes the file at path over config. Keys the file omits keep
// their current values. Relative bot file globs are resolved against the
// file's directory.
func loadInto(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var probe struct {
		Bots []BotConfig `yaml:"bots"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if probe.Bots != nil {
		resolveBotFiles(config.Bots, filepath.Dir(path))
	}
	return nil
}

func resolveBotFiles(bots []BotConfig, dir string) {
	for i := range bots {
		for j, f := range bots[i].Files {
			if !filepath.IsAbs(f) {
				bots[i].Files[j] = filepath.Join(dir, f)
			}
		}
	}
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values). Booleans can only be switched on this way.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Graph
	if other.Graph.Backend != "" {
		c.Graph.Backend = other.Graph.Backend
	}
	if other.Graph.SQLitePath != "" {
		c.Graph.SQLitePath = other.Graph.SQLitePath
	}
	if other.Graph.MergePolicy != "" {
		c.Graph.MergePolicy = other.Graph.MergePolicy
	}
	if other.Graph.AppendSeparator != "" {
		c.Graph.AppendSeparator = other.Graph.AppendSeparator
	}
	if other.Graph.NoteEachMerge {
		c.Graph.NoteEachMerge = true
	}
	if other.Graph.NotifyInterval != 0 {
		c.Graph.NotifyInterval = other.Graph.NotifyInterval
	}
	if other.Graph.ResponseTimeout != 0 {
		c.Graph.ResponseTimeout = other.Graph.ResponseTimeout
	}
	if other.Graph.MaxKeyTokens != 0 {
		c.Graph.MaxKeyTokens = other.Graph.MaxKeyTokens
	}
	if other.Graph.Namespace != "" {
		c.Graph.Namespace = other.Graph.Namespace
	}

	// Load
	if other.Load.NoteEachLoad {
		c.Load.NoteEachLoad = true
	}
	if other.Load.Parallelism != 0 {
		c.Load.Parallelism = other.Load.Parallelism
	}

	// Watch
	if other.Watch.Enabled {
		c.Watch.Enabled = true
	}
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}

	// Bots
	if len(other.Bots) > 0 {
		c.Bots = other.Bots
	}
}

// Bot returns the configuration of the bot with the given id.
func (c *Config) Bot(id string) (BotConfig, bool) {
	for _, b := range c.Bots {
		if b.ID == id {
			return b, true
		}
	}
	return BotConfig{}, false
}
