package rules

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry is an in-memory catalog of rules indexed by id, entity and type.
// It is populated at startup by the composition root and read concurrently
// afterwards. Writers take the lock, so readers never see a half-updated index.
type Registry struct {
	rules       map[string]*Rule
	seq         map[string]int // insertion order, kept across overwrites
	next        int
	entityIndex map[string]map[string]struct{}
	typeIndex   map[RuleType]map[string]struct{}
	mu          sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		rules:       make(map[string]*Rule),
		seq:         make(map[string]int),
		entityIndex: make(map[string]map[string]struct{}),
		typeIndex:   make(map[RuleType]map[string]struct{}),
	}
}

// Register inserts rule, replacing any rule with the same ID. A replaced rule
// keeps its original insertion position for tie-breaking.
func (reg *Registry) Register(rule *Rule) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if old, exists := reg.rules[rule.ID]; exists {
		reg.unindex(old)
	} else {
		reg.seq[rule.ID] = reg.next
		reg.next++
	}

	reg.rules[rule.ID] = rule

	if reg.entityIndex[rule.Entity] == nil {
		reg.entityIndex[rule.Entity] = make(map[string]struct{})
	}
	reg.entityIndex[rule.Entity][rule.ID] = struct{}{}

	if reg.typeIndex[rule.Type] == nil {
		reg.typeIndex[rule.Type] = make(map[string]struct{})
	}
	reg.typeIndex[rule.Type][rule.ID] = struct{}{}
}

// Unregister removes a rule. It reports whether the rule existed.
func (reg *Registry) Unregister(id string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rule, exists := reg.rules[id]
	if !exists {
		return false
	}
	reg.unindex(rule)
	delete(reg.rules, id)
	delete(reg.seq, id)
	return true
}

// UnregisterRule removes rule only while it is still the rule registered
// under its ID. It reports whether anything was removed.
func (reg *Registry) UnregisterRule(rule *Rule) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.rules[rule.ID] != rule {
		return false
	}
	reg.unindex(rule)
	delete(reg.rules, rule.ID)
	delete(reg.seq, rule.ID)
	return true
}

func (reg *Registry) unindex(rule *Rule) {
	if ids := reg.entityIndex[rule.Entity]; ids != nil {
		delete(ids, rule.ID)
		if len(ids) == 0 {
			delete(reg.entityIndex, rule.Entity)
		}
	}
	if ids := reg.typeIndex[rule.Type]; ids != nil {
		delete(ids, rule.ID)
		if len(ids) == 0 {
			delete(reg.typeIndex, rule.Type)
		}
	}
}

// Get looks up a rule by id, enabled or not.
func (reg *Registry) Get(id string) (*Rule, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	rule, ok := reg.rules[id]
	return rule, ok
}

// ByEntity returns the enabled rules for entity, highest priority first.
func (reg *Registry) ByEntity(entity string) []*Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return reg.collect(reg.entityIndex[entity], nil)
}

// ByType returns the enabled rules of type t across all entities, highest
// priority first.
func (reg *Registry) ByType(t RuleType) []*Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return reg.collect(reg.typeIndex[t], nil)
}

// ByEntityAndType returns the enabled rules matching both entity and type.
func (reg *Registry) ByEntityAndType(entity string, t RuleType) []*Rule {
	return reg.ByEntityAndTypes(entity, t)
}

// ByEntityAndTypes returns the enabled rules for entity whose type is any of
// types, in one priority and insertion ordering.
func (reg *Registry) ByEntityAndTypes(entity string, types ...RuleType) []*Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return reg.collect(reg.entityIndex[entity], func(r *Rule) bool { return slices.Contains(types, r.Type) })
}

// Dependents returns the ids of enabled rules that list id in DependsOn, in
// registration order.
func (reg *Registry) Dependents(id string) []string {
	var out []string
	for _, r := range reg.All() {
		if r.Enabled && r.ID != id && slices.Contains(r.DependsOn, id) {
			out = append(out, r.ID)
		}
	}
	return out
}

// All returns every registered rule, including disabled ones, in
// registration order.
func (reg *Registry) All() []*Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]*Rule, 0, len(reg.rules))
	for _, r := range reg.rules {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Rule) int { return cmp.Compare(reg.seq[a.ID], reg.seq[b.ID]) })
	return out
}

// Len returns the number of registered rules.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rules)
}

// collect must be called with the read lock held.
func (reg *Registry) collect(ids map[string]struct{}, keep func(*Rule) bool) []*Rule {
	out := make([]*Rule, 0, len(ids))
	for id := range ids {
		r := reg.rules[id]
		if r == nil || !r.Enabled {
			continue
		}
		if keep != nil && !keep(r) {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Rule) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(reg.seq[a.ID], reg.seq[b.ID])
	})
	return out
}

// DanglingDependencyError reports a dependsOn id that names no registered rule.
type DanglingDependencyError struct {
	RuleID  string
	Missing string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("rule %s depends on unregistered rule %s", e.RuleID, e.Missing)
}

// CycleError reports a dependency cycle. Path starts and ends with the same id.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("rule dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Validate checks the whole dependency graph of enabled rules. It returns
// every dangling dependency and every cycle it finds, joined. Call it once
// after registration so authoring mistakes stop the process at boot.
func (reg *Registry) Validate() error {
	all := reg.All()

	var errs []error
	enabled := make([]*Rule, 0, len(all))
	for _, r := range all {
		if !r.Enabled {
			continue
		}
		enabled = append(enabled, r)
		for _, dep := range r.DependsOn {
			if _, ok := reg.Get(dep); !ok {
				errs = append(errs, &DanglingDependencyError{RuleID: r.ID, Missing: dep})
			}
		}
	}

	_, cycles := SortByDependencies(enabled)
	for _, path := range cycles {
		errs = append(errs, &CycleError{Path: path})
	}

	return errors.Join(errs...)
}
