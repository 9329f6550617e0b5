package orchestration

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/jaberry835/agentmesh/a2a"
	"github.com/jaberry835/agentmesh/core"
)

// Entry combines a discovered agent card with routing metadata shown to
// the planning model. Entries are immutable after a rebuild.
type Entry struct {
	Card        *a2a.AgentCard
	Description string
	// Keywords drive fallback routing when the model's structured
	// answer cannot be parsed.
	Keywords []string
	// Examples are 1-3 sample questions this specialist handles well.
	Examples []string
}

// Registry is the in-memory catalog of specialists. The snapshot is
// replaced wholesale on re-discovery; readers always see a consistent
// snapshot. Lookups are case-sensitive.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ordered []string
	logger  core.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

// Rebuild replaces the whole snapshot from freshly discovered cards.
// Duplicate names keep the first card seen.
func (r *Registry) Rebuild(cards []*a2a.AgentCard) {
	entries := make(map[string]*Entry, len(cards))
	ordered := make([]string, 0, len(cards))
	for _, card := range cards {
		if card == nil || card.Name == "" {
			continue
		}
		if _, exists := entries[card.Name]; exists {
			continue
		}
		entries[card.Name] = &Entry{
			Card:        card,
			Description: card.Description,
			Keywords:    keywordsFor(card),
		}
		ordered = append(ordered, card.Name)
	}
	sort.Strings(ordered)

	r.mu.Lock()
	r.entries = entries
	r.ordered = ordered
	r.mu.Unlock()

	r.logger.Info("Agent registry rebuilt", map[string]interface{}{
		"operation":   "registry_rebuild",
		"agent_count": len(ordered),
		"agents":      strings.Join(ordered, ","),
	})
}

// List returns all entries in stable name order.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.ordered))
	for _, name := range r.ordered {
		out = append(out, r.entries[name])
	}
	return out
}

// Get returns the entry for an exact name match.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry, ok
}

// Names returns all registered names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered specialists.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

type describeEntry struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities,omitempty"`
	Examples     []string `json:"examples,omitempty"`
}

// Describe renders a stable JSON summary of the registry for the
// planning model. Output order follows name order, so two registries
// built from the same cards describe identically.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := make([]describeEntry, 0, len(r.ordered))
	for _, name := range r.ordered {
		entry := r.entries[name]
		summary = append(summary, describeEntry{
			Name:         name,
			Description:  entry.Description,
			Capabilities: entry.Card.Capabilities,
			Examples:     entry.Examples,
		})
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

// keywordsFor derives fallback-routing keywords from a card: its
// capability tags plus lowercase tokens of name and description.
func keywordsFor(card *a2a.AgentCard) []string {
	stopwords := map[string]bool{
		"and": true, "the": true, "for": true, "with": true,
		"from": true, "into": true, "runs": true, "against": true,
	}
	seen := make(map[string]bool)
	var keywords []string
	add := func(word string) {
		word = strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
			return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
		}))
		if len(word) < 3 || stopwords[word] || seen[word] {
			return
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	for _, tag := range card.Capabilities {
		add(tag)
	}
	add(strings.TrimSuffix(card.Name, "Agent"))
	for _, word := range strings.Fields(card.Description) {
		add(word)
	}
	return keywords
}
