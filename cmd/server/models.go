package main

import (
	"github.com/liamcoop/prepbook/rules"
	"github.com/liamcoop/prepbook/statemachine"
	"github.com/liamcoop/prepbook/store"
)

// EvaluateRequest is the body of POST /api/v1/evaluate
type EvaluateRequest struct {
	Context         rules.RuleContext `json:"context"`
	Types           []rules.RuleType  `json:"types,omitempty"`
	ContinueOnError bool              `json:"continueOnError,omitempty"`
}

// ValidateRequest is the body of POST /api/v1/validate
type ValidateRequest struct {
	Context rules.RuleContext `json:"context"`
}

// RuleRequest is the body of POST /api/v1/rules and PUT /api/v1/rules/{ruleId}.
// Type is required. On create, Priority defaults to the usual priority for the
// rule type and Enabled to true; on update, both default to the stored values.
// The ID field is ignored on update.
type RuleRequest struct {
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Type       *rules.RuleType `json:"type"`
	Entity     string          `json:"entity"`
	Field      string          `json:"field,omitempty"`
	Priority   *int            `json:"priority,omitempty"`
	Enabled    *bool           `json:"enabled,omitempty"`
	Severity   rules.Severity  `json:"severity"`
	Expression string          `json:"expression"`
	Message    string          `json:"message"`
	DependsOn  []string        `json:"dependsOn,omitempty"`
}

// definition converts the request into a RuleDefinition for id. Priority and
// Enabled fall back to the given defaults.
func (req *RuleRequest) definition(id string, priority int, enabled bool) *rules.RuleDefinition {
	def := &rules.RuleDefinition{
		ID:         id,
		Name:       req.Name,
		Type:       *req.Type,
		Entity:     req.Entity,
		Field:      req.Field,
		Priority:   priority,
		Enabled:    enabled,
		Severity:   req.Severity,
		Expression: req.Expression,
		Message:    req.Message,
		DependsOn:  req.DependsOn,
	}
	if req.Priority != nil {
		def.Priority = *req.Priority
	}
	if req.Enabled != nil {
		def.Enabled = *req.Enabled
	}
	return def
}

// DependentsResponse is returned when a rule cannot be removed because other
// rules depend on it.
type DependentsResponse struct {
	Error      string   `json:"error"`
	Dependents []string `json:"dependents"`
}

// RulesListResponse lists registered rules
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
}

// TransitionsResponse lists the transitions available from a state
type TransitionsResponse struct {
	Entity             string   `json:"entity"`
	State              string   `json:"state"`
	AllowedTransitions []string `json:"allowedTransitions"`
	Terminal           bool     `json:"terminal"`
}

// EntityResponse carries a stored row and any non-blocking rule warnings
type EntityResponse struct {
	Entity   *store.Entity     `json:"entity"`
	Warnings []rules.RuleError `json:"warnings,omitempty"`
}

// EntitiesListResponse lists rows of one kind
type EntitiesListResponse struct {
	Entities []*store.Entity `json:"entities"`
}

// RejectedResponse is returned when a rule stage blocks a request
type RejectedResponse struct {
	Error  string                  `json:"error"`
	Stage  string                  `json:"stage"`
	Result *rules.EvaluationResult `json:"result"`
}

// StateViolationResponse is returned for transitions not allowed from the current state
type StateViolationResponse struct {
	Error     string                          `json:"error"`
	Violation *statemachine.StateViolationError `json:"violation"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
