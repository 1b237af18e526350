// Package worlds turns declarative rule catalogs into running schedulers and
// keeps one scheduler per world.
package worlds

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/rulebook/rules"
)

// Catalog is the declarative description of a world's rulebooks and rules
type Catalog struct {
	DefaultRulebook string        `json:"defaultRulebook,omitempty" yaml:"defaultRulebook,omitempty"`
	Rulebooks       []RulebookDef `json:"rulebooks,omitempty" yaml:"rulebooks,omitempty"`
	Rules           []Definition  `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// RulebookDef declares a rulebook
type RulebookDef struct {
	ID       string `json:"id" yaml:"id"`
	Priority int    `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Definition declares one rule or trigger. A definition with any of Action,
// Src or Dst set becomes a trigger.
type Definition struct {
	ID        string   `json:"id,omitempty" yaml:"id,omitempty"`
	Rulebooks []string `json:"rulebooks,omitempty" yaml:"rulebooks,omitempty"` // default rulebook when empty
	Priority  *int     `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Condition is a CEL expression; empty always holds
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	// Effect names a Go effect from the EffectRegistry
	Effect string `json:"effect,omitempty" yaml:"effect,omitempty"`
	// Outcome is continue, abort or replace
	Outcome string `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	// Replace is the action kind substituted when Outcome is replace
	Replace string `json:"replace,omitempty" yaml:"replace,omitempty"`

	Action string `json:"action,omitempty" yaml:"action,omitempty"`
	Src    string `json:"src,omitempty" yaml:"src,omitempty"`
	Dst    string `json:"dst,omitempty" yaml:"dst,omitempty"`

	TopLevelOnly bool `json:"topLevelOnly,omitempty" yaml:"topLevelOnly,omitempty"`
	Disabled     bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	Before []string `json:"before,omitempty" yaml:"before,omitempty"`
	After  []string `json:"after,omitempty" yaml:"after,omitempty"`
}

// IsTrigger reports whether the definition carries a trigger filter
func (d Definition) IsTrigger() bool {
	return d.Action != "" || d.Src != "" || d.Dst != ""
}

// DefaultRulebookID returns the catalog's default rulebook id
func (c Catalog) DefaultRulebookID() string {
	if c.DefaultRulebook == "" {
		return rules.DefaultRulebookID
	}
	return c.DefaultRulebook
}

// rulebookDefs returns the declared rulebooks plus an implicit default
// rulebook when the catalog doesn't declare it
func (c Catalog) rulebookDefs() []RulebookDef {
	defs := append([]RulebookDef(nil), c.Rulebooks...)
	for _, rb := range defs {
		if rb.ID == c.DefaultRulebookID() {
			return defs
		}
	}
	if c.DefaultRulebook == "" {
		defs = append(defs, RulebookDef{ID: rules.DefaultRulebookID})
	}
	return defs
}

// ParseCatalog decodes a YAML (or JSON) catalog. Unknown fields are rejected.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return c, nil
}

// LoadCatalog reads and parses a catalog file
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// YAML renders the catalog as YAML
func (c Catalog) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// EffectRegistry maps effect names used in catalogs to Go effects
// Thread-safe for concurrent access
type EffectRegistry struct {
	effects map[string]rules.Effect
	mu      sync.RWMutex
}

// NewEffectRegistry creates an empty registry
func NewEffectRegistry() *EffectRegistry {
	return &EffectRegistry{effects: make(map[string]rules.Effect)}
}

// Register adds an effect under name
func (r *EffectRegistry) Register(name string, effect rules.Effect) error {
	if err := validateIdentifier(name); err != nil {
		return fmt.Errorf("invalid effect name %q: %w", name, err)
	}
	if effect == nil {
		return fmt.Errorf("effect %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.effects[name]; exists {
		return fmt.Errorf("effect %q already registered", name)
	}
	r.effects[name] = effect
	return nil
}

// Lookup returns the effect registered under name
func (r *EffectRegistry) Lookup(name string) (rules.Effect, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.effects[name]
	return e, ok
}

// Names lists registered effects, sorted
func (r *EffectRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.effects))
	for name := range r.effects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
