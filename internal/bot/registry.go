// Package bot holds the bot registry: which bot ids exist, their
// properties, and which sources each bot has loaded.
package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrDuplicateBot is returned when a bot id is registered twice.
var ErrDuplicateBot = errors.New("bot already registered")

// DefaultPredicateEmpty is returned for properties that are unset.
const DefaultPredicateEmpty = "undefined"

// Bot is one configured bot.
type Bot struct {
	ID string

	mu           sync.RWMutex
	properties   map[string]string
	emptyDefault string
	loaded       map[string]struct{}
}

// New returns a bot with no properties. emptyDefault is the value reported
// for unset properties; "" selects DefaultPredicateEmpty.
func New(id, emptyDefault string) *Bot {
	if emptyDefault == "" {
		emptyDefault = DefaultPredicateEmpty
	}
	return &Bot{
		ID:           id,
		properties:   make(map[string]string),
		emptyDefault: emptyDefault,
		loaded:       make(map[string]struct{}),
	}
}

// PropertyValue returns the named property, or the empty default when the
// name is empty or the property is unset.
func (b *Bot) PropertyValue(name string) string {
	if name == "" {
		return b.emptyDefault
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.properties[name]; ok {
		return v
	}
	return b.emptyDefault
}

// SetPropertyValue stores a property. Empty names are ignored.
func (b *Bot) SetPropertyValue(name, value string) {
	if name == "" {
		return
	}
	b.mu.Lock()
	b.properties[name] = value
	b.mu.Unlock()
}

// SetProperties replaces every property.
func (b *Bot) SetProperties(props map[string]string) {
	m := make(map[string]string, len(props))
	for k, v := range props {
		if k != "" {
			m[k] = v
		}
	}
	b.mu.Lock()
	b.properties = m
	b.mu.Unlock()
}

// Properties returns a copy of the properties.
func (b *Bot) Properties() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.properties))
	for k, v := range b.properties {
		out[k] = v
	}
	return out
}

// MarkLoaded records that source has been loaded for this bot.
func (b *Bot) MarkLoaded(source string) {
	b.mu.Lock()
	b.loaded[source] = struct{}{}
	b.mu.Unlock()
}

// ForgetLoaded drops source from the loaded set.
func (b *Bot) ForgetLoaded(source string) {
	b.mu.Lock()
	delete(b.loaded, source)
	b.mu.Unlock()
}

// HasLoaded reports whether source has been loaded for this bot.
func (b *Bot) HasLoaded(source string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.loaded[source]
	return ok
}

// LoadedSources lists the loaded sources in sorted order.
func (b *Bot) LoadedSources() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.loaded))
	for s := range b.loaded {
		out = append(out, s)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// clearLoaded forgets every loaded source.
func (b *Bot) clearLoaded() {
	b.mu.Lock()
	b.loaded = make(map[string]struct{})
	b.mu.Unlock()
}

// Registry resolves bot ids. It satisfies graph.BotResolver.
type Registry struct {
	mu     sync.RWMutex
	bots   map[string]*Bot
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{bots: make(map[string]*Bot), logger: logger}
}

// Add registers b.
func (r *Registry) Add(b *Bot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bots[b.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateBot, b.ID)
	}
	r.bots[b.ID] = b
	r.logger.Debug("Registered bot", slog.String("bot", b.ID))
	return nil
}

// Get returns the bot with the given id.
func (r *Registry) Get(id string) (*Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bots[id]
	return b, ok
}

// Exists reports whether id is registered.
func (r *Registry) Exists(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// PropertyValue returns a property of the bot botID, or "" for an unknown
// bot.
func (r *Registry) PropertyValue(botID, name string) string {
	b, ok := r.Get(botID)
	if !ok {
		return ""
	}
	return b.PropertyValue(name)
}

// IDs lists the registered bot ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.bots))
	for id := range r.bots {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// LoadersOf lists the bots that have loaded source, in id order.
func (r *Registry) LoadersOf(source string) []*Bot {
	var out []*Bot
	for _, id := range r.IDs() {
		if b, ok := r.Get(id); ok && b.HasLoaded(source) {
			out = append(out, b)
		}
	}
	return out
}

// ForgetAll clears the loaded-source sets of every bot, as after the graph
// they describe has been replaced.
func (r *Registry) ForgetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bots {
		b.clearLoaded()
	}
}
