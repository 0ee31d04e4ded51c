package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Default priorities per builder. Higher runs earlier.
const (
	PriorityAuthorization = 200
	PriorityValidation    = 100
	PriorityConstraint    = 50
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// FieldCheckKind tags the built-in field checks.
type FieldCheckKind string

const (
	CheckRequired FieldCheckKind = "required"
	CheckEmail    FieldCheckKind = "email"
	CheckLength   FieldCheckKind = "length"
	CheckRange    FieldCheckKind = "range"
	CheckOneOf    FieldCheckKind = "oneOf"
)

// FieldCheck is a declarative check on a single field. Its parameters are
// plain data, so built rules can be listed and inspected.
type FieldCheck struct {
	Kind    FieldCheckKind `json:"kind"`
	Field   string         `json:"field"`
	Min     *float64       `json:"min,omitempty"`
	Max     *float64       `json:"max,omitempty"`
	Values  []string       `json:"values,omitempty"`
	Message string         `json:"message"`
}

func (c *FieldCheck) Check(rc *RuleContext) *RuleError {
	value, _ := rc.Value(c.Field)

	var ok bool
	switch c.Kind {
	case CheckRequired:
		ok = !isEmpty(value)
	case CheckEmail:
		ok = isEmpty(value) || matchesEmail(value)
	case CheckLength:
		ok = isEmpty(value) || c.lengthInBounds(value)
	case CheckRange:
		ok = isEmpty(value) || c.numberInBounds(value)
	case CheckOneOf:
		ok = isEmpty(value) || slices.Contains(c.Values, fmt.Sprint(value))
	default:
		return &RuleError{
			Message: fmt.Sprintf("unknown field check %q", c.Kind),
			Field:   c.Field,
			Code:    CodeInternalRuleFailure,
		}
	}

	if ok {
		return nil
	}
	return &RuleError{
		Message: c.Message,
		Field:   c.Field,
		Context: map[string]any{"value": value},
	}
}

func (c *FieldCheck) lengthInBounds(value any) bool {
	s, isString := value.(string)
	if !isString {
		return false
	}
	n := float64(utf8.RuneCountInString(s))
	return inBounds(n, c.Min, c.Max)
}

func (c *FieldCheck) numberInBounds(value any) bool {
	n, isNumber := toFloat(value)
	if !isNumber {
		return false
	}
	return inBounds(n, c.Min, c.Max)
}

func inBounds(n float64, lo, hi *float64) bool {
	if lo != nil && n < *lo {
		return false
	}
	if hi != nil && n > *hi {
		return false
	}
	return true
}

// isEmpty treats absent, nil and empty-string values as empty.
func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	s, isString := value.(string)
	return isString && s == ""
}

func matchesEmail(value any) bool {
	s, isString := value.(string)
	return isString && emailPattern.MatchString(s)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ValueCheck passes when Predicate accepts data[Field].
type ValueCheck struct {
	Field     string
	Predicate func(value any) bool
	Message   string
}

func (c *ValueCheck) Check(rc *RuleContext) *RuleError {
	value, _ := rc.Value(c.Field)
	if c.Predicate(value) {
		return nil
	}
	return &RuleError{Message: c.Message, Field: c.Field}
}

func (c *ValueCheck) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"kind": "value", "field": c.Field, "message": c.Message})
}

// PredicateCheck passes when Predicate accepts the whole record. It is the
// escape hatch for cross-field and before/after comparisons that cannot be
// written as a FieldCheck or an expression.
type PredicateCheck struct {
	Predicate func(data map[string]any, rc *RuleContext) bool
	Message   string
}

func (c *PredicateCheck) Check(rc *RuleContext) *RuleError {
	if c.Predicate(rc.Data, rc) {
		return nil
	}
	return &RuleError{Message: c.Message}
}

func (c *PredicateCheck) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"kind": "predicate", "message": c.Message})
}

// AuthorizationCheck gates one operation. Other operations pass untouched.
type AuthorizationCheck struct {
	Operation Operation
	Predicate func(rc *RuleContext) bool
	Message   string
}

func (c *AuthorizationCheck) Check(rc *RuleContext) *RuleError {
	if rc.Operation != c.Operation {
		return nil
	}
	if c.Predicate(rc) {
		return nil
	}
	return &RuleError{
		Message: c.Message,
		Code:    "unauthorized",
		Context: map[string]any{"operation": string(rc.Operation), "userId": rc.UserID},
	}
}

func (c *AuthorizationCheck) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"kind": "authorization", "operation": string(c.Operation), "message": c.Message})
}

// NewValidationRule builds a validation rule over data[field].
func NewValidationRule(id, name, entity, field string, predicate func(any) bool, message string) *Rule {
	return &Rule{
		ID:       id,
		Name:     name,
		Type:     TypeValidation,
		Entity:   entity,
		Field:    field,
		Priority: PriorityValidation,
		Enabled:  true,
		Check:    &ValueCheck{Field: field, Predicate: predicate, Message: message},
	}
}

// NewConstraintRule builds a constraint rule whose predicate sees the whole
// record and the context, including PreviousData.
func NewConstraintRule(id, name, entity string, predicate func(map[string]any, *RuleContext) bool, message string) *Rule {
	return &Rule{
		ID:       id,
		Name:     name,
		Type:     TypeConstraint,
		Entity:   entity,
		Priority: PriorityConstraint,
		Enabled:  true,
		Check:    &PredicateCheck{Predicate: predicate, Message: message},
	}
}

// NewAuthorizationRule builds an authorization rule for one operation.
func NewAuthorizationRule(id, name, entity string, op Operation, predicate func(*RuleContext) bool, message string) *Rule {
	return &Rule{
		ID:       id,
		Name:     name,
		Type:     TypeAuthorization,
		Entity:   entity,
		Priority: PriorityAuthorization,
		Enabled:  true,
		Check:    &AuthorizationCheck{Operation: op, Predicate: predicate, Message: message},
	}
}

func fieldRule(entity, field string, kind FieldCheckKind, name, message string, check FieldCheck) *Rule {
	check.Kind = kind
	check.Field = field
	check.Message = message
	return &Rule{
		ID:       fmt.Sprintf("%s.%s.%s", entity, field, kind),
		Name:     name,
		Type:     TypeValidation,
		Entity:   entity,
		Field:    field,
		Priority: PriorityValidation,
		Enabled:  true,
		Check:    &check,
	}
}

// RequiredFieldRule fails when field is absent, nil or the empty string.
func RequiredFieldRule(entity, field string) *Rule {
	return fieldRule(entity, field, CheckRequired,
		fmt.Sprintf("%s %s required", entity, field),
		fmt.Sprintf("%s is required", field),
		FieldCheck{})
}

// EmailFormatRule fails when field is set but is not local@domain.tld.
// An empty field defaults to "email".
func EmailFormatRule(entity, field string) *Rule {
	if field == "" {
		field = "email"
	}
	return fieldRule(entity, field, CheckEmail,
		fmt.Sprintf("%s %s format", entity, field),
		fmt.Sprintf("%s must be a valid email address", field),
		FieldCheck{})
}

// StringLengthRule bounds the character count of field, inclusive.
func StringLengthRule(entity, field string, min, max int) *Rule {
	lo, hi := float64(min), float64(max)
	return fieldRule(entity, field, CheckLength,
		fmt.Sprintf("%s %s length", entity, field),
		fmt.Sprintf("%s must be between %d and %d characters", field, min, max),
		FieldCheck{Min: &lo, Max: &hi})
}

// NumericRangeRule bounds the numeric value of field, inclusive.
func NumericRangeRule(entity, field string, min, max float64) *Rule {
	return fieldRule(entity, field, CheckRange,
		fmt.Sprintf("%s %s range", entity, field),
		fmt.Sprintf("%s must be between %g and %g", field, min, max),
		FieldCheck{Min: &min, Max: &max})
}

// OneOfRule restricts field to a fixed set of values.
func OneOfRule(entity, field string, values []string) *Rule {
	return fieldRule(entity, field, CheckOneOf,
		fmt.Sprintf("%s %s allowed values", entity, field),
		fmt.Sprintf("%s must be one of: %s", field, strings.Join(values, ", ")),
		FieldCheck{Values: slices.Clone(values)})
}
