package rules

import (
	"fmt"
	"slices"
	"strings"
)

// RuleType classifies what a rule is for. The engine selects rules by type,
// and the derived policies (ValidateInput, CheckConstraints,
// CheckAuthorization) each run exactly one type.
type RuleType int

const (
	TypeValidation RuleType = iota
	TypeConstraint
	TypeTrigger
	TypeComputed
	TypeAuthorization
)

// AllRuleTypes lists every RuleType in declaration order.
var AllRuleTypes = []RuleType{
	TypeValidation,
	TypeConstraint,
	TypeTrigger,
	TypeComputed,
	TypeAuthorization,
}

func (t RuleType) String() string {
	switch t {
	case TypeValidation:
		return "validation"
	case TypeConstraint:
		return "constraint"
	case TypeTrigger:
		return "trigger"
	case TypeComputed:
		return "computed"
	case TypeAuthorization:
		return "authorization"
	default:
		return fmt.Sprintf("RuleType(%d)", int(t))
	}
}

// ParseRuleType converts the wire name of a rule type.
func ParseRuleType(s string) (RuleType, error) {
	for _, t := range AllRuleTypes {
		if t.String() == strings.ToLower(strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown rule type %q", s)
}

func (t RuleType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *RuleType) UnmarshalText(b []byte) error {
	parsed, err := ParseRuleType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Severity of a RuleError. Only SeverityError makes an evaluation fail.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Blocking reports whether a failure at this severity fails the evaluation.
func (s Severity) Blocking() bool {
	switch s {
	case SeverityError:
		return true
	case SeverityWarning, SeverityInfo:
		return false
	default:
		return true
	}
}

// ParseSeverity converts the wire name of a severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "":
		return SeverityError, nil
	case "warning":
		return SeverityWarning, nil
	case "info":
		return SeverityInfo, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Operation is the kind of mutation being evaluated.
type Operation string

const (
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpRead       Operation = "read"
	OpTransition Operation = "transition"
)

// Valid reports whether op is one of the declared operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpRead, OpTransition:
		return true
	}
	return false
}

// RuleContext describes a single entity mutation. It is built per request
// and never persisted. Rules must treat Data and PreviousData as read-only.
type RuleContext struct {
	Entity       string         `json:"entity"`
	Operation    Operation      `json:"operation"`
	Data         map[string]any `json:"data"`
	PreviousData map[string]any `json:"previousData,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	UserRoles    []string       `json:"userRoles,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// HasRole reports whether the acting user carries any of the given roles.
func (rc *RuleContext) HasRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(rc.UserRoles, r) {
			return true
		}
	}
	return false
}

// Value returns data[field] and whether the key was present.
func (rc *RuleContext) Value(field string) (any, bool) {
	if rc.Data == nil {
		return nil, false
	}
	v, ok := rc.Data[field]
	return v, ok
}

// RuleError is the structured output of a failed rule.
type RuleError struct {
	RuleID   string         `json:"ruleId"`
	RuleName string         `json:"ruleName"`
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Field    string         `json:"field,omitempty"`
	Code     string         `json:"code,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

func (e *RuleError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.RuleID, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.RuleID, e.Message)
}

// CodeInternalRuleFailure tags a RuleError produced because a rule panicked.
const CodeInternalRuleFailure = "internal_rule_failure"

// Checker holds the logic of a rule. A nil return means the rule passed.
// Implementations must not mutate the context.
type Checker interface {
	Check(rc *RuleContext) *RuleError
}

// Rule is an immutable rule definition. Once registered it must not be
// modified; register a new Rule with the same ID instead.
type Rule struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      RuleType `json:"type"`
	Entity    string   `json:"entity"`
	Field     string   `json:"field,omitempty"`
	Priority  int      `json:"priority"`
	Enabled   bool     `json:"enabled"`
	Severity  Severity `json:"severity"`
	DependsOn []string `json:"dependsOn,omitempty"`
	Check     Checker  `json:"check"`
}

// Evaluate runs the rule's checker and stamps the rule's identity and
// severity onto any failure.
func (r *Rule) Evaluate(rc *RuleContext) *RuleError {
	if r.Check == nil {
		return nil
	}
	re := r.Check.Check(rc)
	if re == nil {
		return nil
	}
	re.RuleID = r.ID
	re.RuleName = r.Name
	re.Severity = r.Severity
	if re.Field == "" {
		re.Field = r.Field
	}
	return re
}

// EvaluationResult is the verdict of one EvaluateRules call.
type EvaluationResult struct {
	Passed         bool        `json:"passed"`
	Errors         []RuleError `json:"errors"`
	Warnings       []RuleError `json:"warnings"`
	RulesEvaluated int         `json:"rulesEvaluated"`
	Cycles         [][]string  `json:"cycles,omitempty"`
}

// FieldErrors groups blocking errors by field for per-field display.
// Errors without a field are keyed by the empty string.
func (r *EvaluationResult) FieldErrors() map[string][]string {
	out := make(map[string][]string)
	for _, e := range r.Errors {
		out[e.Field] = append(out[e.Field], e.Message)
	}
	return out
}
