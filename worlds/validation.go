package worlds

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/rulebook/rules"
)

const (
	maxRulebooks = 100
	maxRules     = 2000
	maxIDLength  = 100
)

// ErrInvalidCatalog wraps every validation failure
var ErrInvalidCatalog = errors.New("invalid catalog")

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.-]*$`)

// ValidateCatalog checks a catalog before it is built into a scheduler.
// effects may be nil when the catalog names no effects.
// Returns an error if validation fails, nil if the catalog is valid
func ValidateCatalog(c Catalog, effects *EffectRegistry) error {
	if err := validateCatalog(c, effects); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return nil
}

func validateCatalog(c Catalog, effects *EffectRegistry) error {
	if len(c.Rulebooks) > maxRulebooks {
		return fmt.Errorf("catalog contains %d rulebooks, maximum allowed is %d", len(c.Rulebooks), maxRulebooks)
	}
	if len(c.Rules) > maxRules {
		return fmt.Errorf("catalog contains %d rules, maximum allowed is %d", len(c.Rules), maxRules)
	}

	books := make(map[string]bool)
	for _, rb := range c.Rulebooks {
		if err := validateIdentifier(rb.ID); err != nil {
			return fmt.Errorf("invalid rulebook id %q: %w", rb.ID, err)
		}
		if books[rb.ID] {
			return fmt.Errorf("rulebook %q declared twice", rb.ID)
		}
		books[rb.ID] = true
	}

	defaultID := c.DefaultRulebookID()
	if c.DefaultRulebook != "" && !books[defaultID] {
		return fmt.Errorf("default rulebook %q is not declared", defaultID)
	}
	books[defaultID] = true

	compiler, err := rules.NewExprCompiler(nil)
	if err != nil {
		return err
	}

	ids := make(map[string]bool)
	for i, d := range c.Rules {
		name := d.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		} else {
			if err := validateIdentifier(d.ID); err != nil {
				return fmt.Errorf("invalid rule id %q: %w", d.ID, err)
			}
			if ids[d.ID] {
				return fmt.Errorf("rule %q: %w", d.ID, rules.ErrDuplicateRuleID)
			}
			ids[d.ID] = true
		}

		if err := validateDefinition(name, d, books, effects, compiler); err != nil {
			return err
		}
	}

	// Ordering references are checked once every id is known
	for _, d := range c.Rules {
		for _, ref := range append(append([]string(nil), d.Before...), d.After...) {
			if d.ID == "" {
				return fmt.Errorf("anonymous rule cannot declare before/after constraints")
			}
			if ref == d.ID {
				return fmt.Errorf("rule %q cannot be ordered relative to itself", d.ID)
			}
			if !ids[ref] {
				return fmt.Errorf("rule %q is ordered relative to unknown rule %q", d.ID, ref)
			}
		}
	}

	return nil
}

func validateDefinition(name string, d Definition, books map[string]bool, effects *EffectRegistry, compiler *rules.ExprCompiler) error {
	seen := make(map[string]bool)
	for _, rb := range d.Rulebooks {
		if !books[rb] {
			return fmt.Errorf("rule %s references unknown rulebook %q", name, rb)
		}
		if seen[rb] {
			return fmt.Errorf("rule %s lists rulebook %q twice", name, rb)
		}
		seen[rb] = true
	}

	if strings.TrimSpace(d.Outcome) != d.Outcome {
		return fmt.Errorf("rule %s has outcome with leading/trailing whitespace: %q", name, d.Outcome)
	}
	kind, err := rules.ParseOutcomeKind(d.Outcome)
	if err != nil {
		return fmt.Errorf("rule %s: %w", name, err)
	}
	switch {
	case kind == rules.OutcomeReplace && d.Replace == "":
		return fmt.Errorf("rule %s: replace outcome requires a replace action", name)
	case kind != rules.OutcomeReplace && d.Replace != "":
		return fmt.Errorf("rule %s: replace action %q given without a replace outcome", name, d.Replace)
	}

	if d.Effect != "" {
		if _, ok := effects.Lookup(d.Effect); !ok {
			return fmt.Errorf("rule %s uses unregistered effect %q", name, d.Effect)
		}
	}

	if d.Condition != "" {
		if _, err := compiler.Compile(d.Condition); err != nil {
			return fmt.Errorf("rule %s: condition: %w", name, err)
		}
	}

	return nil
}

// validateIdentifier validates a rulebook, rule or effect name
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIDLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIDLength)
	}

	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("must match pattern %s (start with letter or underscore, followed by letters, digits, underscores, dots or dashes)", validIdentifier)
	}

	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}

	return nil
}

// isReservedKeyword checks if a name collides with a CEL keyword or a
// variable every condition sees
func isReservedKeyword(name string) bool {
	reservedKeywords := map[string]bool{
		// Boolean and null literals
		"true":  true,
		"false": true,
		"null":  true,
		// CEL reserved words
		"in":        true,
		"as":        true,
		"break":     true,
		"const":     true,
		"continue":  true,
		"else":      true,
		"for":       true,
		"function":  true,
		"if":        true,
		"import":    true,
		"let":       true,
		"loop":      true,
		"package":   true,
		"namespace": true,
		"return":    true,
		"var":       true,
		"void":      true,
		"while":     true,
	}

	return reservedKeywords[name]
}
