package rules

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"sync"
	"time"
)

// ErrDefinitionNotFound is returned by DefinitionStore lookups for unknown ids.
var ErrDefinitionNotFound = errors.New("rule definition not found")

// ErrDefinitionExists is returned by DefinitionStore.Add for duplicate ids.
var ErrDefinitionExists = errors.New("rule definition already exists")

// RuleDefinition is the persisted form of an administrator-authored rule.
// Its logic is always a CEL expression.
type RuleDefinition struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       RuleType  `json:"type"`
	Entity     string    `json:"entity"`
	Field      string    `json:"field,omitempty"`
	Priority   int       `json:"priority"`
	Enabled    bool      `json:"enabled"`
	Severity   Severity  `json:"severity"`
	Expression string    `json:"expression"`
	Message    string    `json:"message"`
	DependsOn  []string  `json:"dependsOn,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks the definition's shape without compiling the expression.
func (d *RuleDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := validateIdentifier(d.Entity); err != nil {
		return fmt.Errorf("invalid entity %q: %w", d.Entity, err)
	}
	if d.Field != "" {
		if err := validateIdentifier(d.Field); err != nil {
			return fmt.Errorf("invalid field %q: %w", d.Field, err)
		}
	}
	if d.Priority < math.MinInt32 || d.Priority > math.MaxInt32 {
		return fmt.Errorf("priority %d is outside the 32-bit integer range", d.Priority)
	}
	if !slices.Contains(AllRuleTypes, d.Type) {
		return fmt.Errorf("invalid rule type %d", int(d.Type))
	}
	if d.Expression == "" {
		return fmt.Errorf("expression is required")
	}
	if d.Message == "" {
		return fmt.Errorf("message is required")
	}
	if slices.Contains(d.DependsOn, d.ID) {
		return fmt.Errorf("rule %s cannot depend on itself", d.ID)
	}
	return nil
}

// validateIdentifier accepts names usable as CEL map selectors
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$")
	}
	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}
	return nil
}

func isReservedKeyword(name string) bool {
	switch name {
	case "true", "false", "null", "in", "as", "break", "const", "continue", "else",
		"for", "function", "if", "import", "let", "loop", "package", "namespace",
		"return", "var", "void", "while":
		return true
	}
	return false
}

// Build validates and compiles the definition into a registrable Rule.
func (d *RuleDefinition) Build() (*Rule, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("rule definition %s: %w", d.ID, err)
	}
	check, err := CompileExpression(d.Expression, d.Message)
	if err != nil {
		return nil, fmt.Errorf("rule definition %s: %w", d.ID, err)
	}
	return &Rule{
		ID:        d.ID,
		Name:      d.Name,
		Type:      d.Type,
		Entity:    d.Entity,
		Field:     d.Field,
		Priority:  d.Priority,
		Enabled:   d.Enabled,
		Severity:  d.Severity,
		DependsOn: slices.Clone(d.DependsOn),
		Check:     check,
	}, nil
}

// DefinitionStore persists rule definitions.
type DefinitionStore interface {
	Add(ctx context.Context, def *RuleDefinition) error
	Get(ctx context.Context, id string) (*RuleDefinition, error)
	List(ctx context.Context) ([]*RuleDefinition, error)
	Update(ctx context.Context, def *RuleDefinition) error
	Delete(ctx context.Context, id string) error
}

// LoadDefinitions compiles every stored definition and registers it.
// Disabled definitions are registered too so they stay visible in All.
func LoadDefinitions(ctx context.Context, store DefinitionStore, reg *Registry) (int, error) {
	defs, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list rule definitions: %w", err)
	}

	for _, def := range defs {
		rule, err := def.Build()
		if err != nil {
			return 0, err
		}
		reg.Register(rule)
	}
	return len(defs), nil
}

// InMemoryDefinitionStore implements DefinitionStore using an in-memory map
type InMemoryDefinitionStore struct {
	defs map[string]*RuleDefinition
	mu   sync.RWMutex
}

// NewInMemoryDefinitionStore creates an empty store
func NewInMemoryDefinitionStore() *InMemoryDefinitionStore {
	return &InMemoryDefinitionStore{
		defs: make(map[string]*RuleDefinition),
	}
}

// Add stores a new definition. Duplicate ids are rejected.
func (s *InMemoryDefinitionStore) Add(_ context.Context, def *RuleDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.defs[def.ID]; exists {
		return fmt.Errorf("rule definition %s: %w", def.ID, ErrDefinitionExists)
	}

	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	stored := *def
	s.defs[def.ID] = &stored
	return nil
}

// Get retrieves a definition by id
func (s *InMemoryDefinitionStore) Get(_ context.Context, id string) (*RuleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.defs[id]
	if !exists {
		return nil, fmt.Errorf("rule definition %s: %w", id, ErrDefinitionNotFound)
	}
	out := *def
	return &out, nil
}

// List returns all definitions ordered by creation time
func (s *InMemoryDefinitionStore) List(_ context.Context) ([]*RuleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*RuleDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		d := *def
		out = append(out, &d)
	}
	slices.SortFunc(out, func(a, b *RuleDefinition) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

// Update replaces an existing definition, preserving CreatedAt
func (s *InMemoryDefinitionStore) Update(_ context.Context, def *RuleDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.defs[def.ID]
	if !exists {
		return fmt.Errorf("rule definition %s: %w", def.ID, ErrDefinitionNotFound)
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()
	stored := *def
	s.defs[def.ID] = &stored
	return nil
}

// Delete removes a definition
func (s *InMemoryDefinitionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.defs[id]; !exists {
		return fmt.Errorf("rule definition %s: %w", id, ErrDefinitionNotFound)
	}
	delete(s.defs, id)
	return nil
}
