// Package statemachine defines the lifecycle automata of stateful booking
// entities and executes transitions against stored rows.
//
// States are nodes and transition names are labelled edges. Terminal states
// have no outgoing edges. Nothing moves automatically: every transition is an
// explicit request checked against the current stored state.
package statemachine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// State is a lifecycle state stored in an entity's status column.
type State string

// InvalidState is returned by Transition.ToState for sources outside the
// transition's allowed set.
const InvalidState State = ""

var (
	// ErrUnknownMachine is returned for entity kinds without a state machine.
	ErrUnknownMachine = errors.New("no state machine for entity kind")

	// ErrUnknownTransition is returned for transition names a machine does not declare.
	ErrUnknownTransition = errors.New("unknown transition")
)

// Transition is a named edge from any of From to To.
type Transition struct {
	Name string
	From []State
	To   State
}

// Allows reports whether the transition may fire from state.
func (t *Transition) Allows(from State) bool {
	return slices.Contains(t.From, from)
}

// ToState returns the target for from, or InvalidState when from is not an
// allowed source. It never panics.
func (t *Transition) ToState(from State) State {
	if !t.Allows(from) {
		return InvalidState
	}
	return t.To
}

// Machine is the state machine of one entity kind. Transitions keep their
// declaration order, which is the order AllowedTransitions reports.
type Machine struct {
	Entity      string
	Initial     State
	States      []State
	Transitions []Transition
}

// NewMachine checks the table and returns the machine. Every source and
// target must be a declared state, names must be unique, and Initial must be
// a declared state.
func NewMachine(entity string, initial State, states []State, transitions ...Transition) (*Machine, error) {
	m := &Machine{
		Entity:      entity,
		Initial:     initial,
		States:      states,
		Transitions: transitions,
	}
	if err := m.check(); err != nil {
		return nil, fmt.Errorf("state machine %s: %w", entity, err)
	}
	return m, nil
}

func (m *Machine) check() error {
	if !m.HasState(m.Initial) {
		return fmt.Errorf("initial state %q is not declared", m.Initial)
	}

	seen := make(map[string]struct{}, len(m.Transitions))
	for _, t := range m.Transitions {
		if t.Name == "" {
			return fmt.Errorf("transition with empty name")
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate transition %q", t.Name)
		}
		seen[t.Name] = struct{}{}

		if len(t.From) == 0 {
			return fmt.Errorf("transition %q has no source states", t.Name)
		}
		for _, from := range t.From {
			if !m.HasState(from) {
				return fmt.Errorf("transition %q: source %q is not declared", t.Name, from)
			}
		}
		if !m.HasState(t.To) {
			return fmt.Errorf("transition %q: target %q is not declared", t.Name, t.To)
		}
	}
	return nil
}

// HasState reports whether s is one of the machine's states.
func (m *Machine) HasState(s State) bool {
	return s != InvalidState && slices.Contains(m.States, s)
}

// Transition looks up a transition by name.
func (m *Machine) Transition(name string) (*Transition, bool) {
	for i := range m.Transitions {
		if m.Transitions[i].Name == name {
			return &m.Transitions[i], true
		}
	}
	return nil, false
}

// AllowedTransitions lists the transitions that may fire from state.
func (m *Machine) AllowedTransitions(from State) []string {
	out := []string{}
	for _, t := range m.Transitions {
		if t.Allows(from) {
			out = append(out, t.Name)
		}
	}
	return out
}

// ValidateTransition reports whether name may fire from state.
func (m *Machine) ValidateTransition(from State, name string) bool {
	t, ok := m.Transition(name)
	return ok && t.Allows(from)
}

// IsTerminal reports whether state has no outgoing transitions.
func (m *Machine) IsTerminal(s State) bool {
	return len(m.AllowedTransitions(s)) == 0
}

// Next resolves the target of name from state. It fails with
// ErrUnknownTransition or a *StateViolationError.
func (m *Machine) Next(from State, name string) (State, error) {
	t, ok := m.Transition(name)
	if !ok {
		return InvalidState, fmt.Errorf("%s: %w %q", m.Entity, ErrUnknownTransition, name)
	}
	if !t.Allows(from) {
		return InvalidState, &StateViolationError{
			Entity:              m.Entity,
			CurrentState:        string(from),
			AttemptedTransition: name,
			AllowedTransitions:  m.AllowedTransitions(from),
		}
	}
	return t.ToState(from), nil
}

// StateViolationError reports a transition that is not allowed from the
// entity's current state, with the transitions that are.
type StateViolationError struct {
	Entity              string   `json:"entity"`
	ID                  string   `json:"id,omitempty"`
	CurrentState        string   `json:"currentState"`
	AttemptedTransition string   `json:"attemptedTransition"`
	AllowedTransitions  []string `json:"allowedTransitions"`
}

func (e *StateViolationError) Error() string {
	allowed := "none"
	if len(e.AllowedTransitions) > 0 {
		allowed = strings.Join(e.AllowedTransitions, ", ")
	}
	return fmt.Sprintf("cannot %s %s in state %q (allowed: %s)", e.AttemptedTransition, e.Entity, e.CurrentState, allowed)
}
