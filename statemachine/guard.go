package statemachine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liamcoop/prepbook/rules"
)

// StatusCheck keeps free-form writes away from the status column. Only the
// Executor may move an entity between states.
type StatusCheck struct {
	Machine *Machine
}

// Check enforces:
//   - status, when present, is a declared state
//   - on create, status is absent or the initial state
//   - on update, status equals the previous status
func (c *StatusCheck) Check(rc *rules.RuleContext) *rules.RuleError {
	value, present := rc.Value("status")
	if !present || value == nil || value == "" {
		return nil
	}

	status, ok := value.(string)
	if !ok || !c.Machine.HasState(State(status)) {
		return &rules.RuleError{
			Message: fmt.Sprintf("status must be one of: %s", joinStates(c.Machine.States)),
			Field:   "status",
			Context: map[string]any{"value": value},
		}
	}

	switch rc.Operation {
	case rules.OpCreate:
		if State(status) != c.Machine.Initial {
			return &rules.RuleError{
				Message: fmt.Sprintf("new %s must start in %q", c.Machine.Entity, c.Machine.Initial),
				Field:   "status",
				Code:    "status_not_initial",
				Context: map[string]any{"value": status},
			}
		}
	case rules.OpUpdate:
		previous, _ := rc.PreviousData["status"].(string)
		if status != previous {
			return &rules.RuleError{
				Message: "status can only be changed by a transition",
				Field:   "status",
				Code:    "status_requires_transition",
				Context: map[string]any{"from": previous, "to": status},
			}
		}
	}
	return nil
}

func (c *StatusCheck) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"kind":    "status",
		"entity":  c.Machine.Entity,
		"initial": c.Machine.Initial,
		"states":  c.Machine.States,
	})
}

func joinStates(states []State) string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// StatusGuardRule builds the constraint rule that polices m's status column.
func StatusGuardRule(m *Machine) *rules.Rule {
	return &rules.Rule{
		ID:       m.Entity + ".status.guard",
		Name:     m.Entity + " status guard",
		Type:     rules.TypeConstraint,
		Entity:   m.Entity,
		Field:    "status",
		Priority: rules.PriorityConstraint + 10,
		Enabled:  true,
		Check:    &StatusCheck{Machine: m},
	}
}
