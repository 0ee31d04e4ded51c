package statemachine

import (
	"fmt"
	"slices"
)

// Catalog maps entity kinds to their machines. It is built once by the
// composition root and read-only afterwards.
type Catalog struct {
	machines map[string]*Machine
}

// NewCatalog indexes machines by their Entity. A later machine for the same
// kind replaces an earlier one.
func NewCatalog(machines ...*Machine) *Catalog {
	c := &Catalog{machines: make(map[string]*Machine, len(machines))}
	for _, m := range machines {
		c.machines[m.Entity] = m
	}
	return c
}

// Machine returns the machine for kind.
func (c *Catalog) Machine(kind string) (*Machine, error) {
	m, ok := c.machines[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownMachine, kind)
	}
	return m, nil
}

// Kinds lists the entity kinds that have a machine, sorted.
func (c *Catalog) Kinds() []string {
	out := make([]string, 0, len(c.machines))
	for k := range c.machines {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// AllowedTransitions lists the transitions available to kind in state.
func (c *Catalog) AllowedTransitions(kind, state string) ([]string, error) {
	m, err := c.Machine(kind)
	if err != nil {
		return nil, err
	}
	return m.AllowedTransitions(State(state)), nil
}

// ValidateTransition reports whether transition may fire for kind in state.
// Unknown kinds and transitions are simply invalid.
func (c *Catalog) ValidateTransition(kind, state, transition string) bool {
	m, err := c.Machine(kind)
	if err != nil {
		return false
	}
	return m.ValidateTransition(State(state), transition)
}
