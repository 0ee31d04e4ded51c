package rules

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// costLimit bounds the work a single expression may do per evaluation.
const costLimit = 1000000

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

// expressionEnv declares the variables visible to rule expressions:
//
//	data      the candidate record
//	previous  the record before the operation ({} on create)
//	operation the operation name
//	user      {id, roles}
//	metadata  free-form request metadata
func expressionEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("data", cel.DynType),
			cel.Variable("previous", cel.DynType),
			cel.Variable("operation", cel.StringType),
			cel.Variable("user", cel.DynType),
			cel.Variable("metadata", cel.DynType),
		)
	})
	return env, envErr
}

// ExpressionCheck is a predicate held as a CEL expression. The expression
// must yield a bool; false, a non-bool result or an evaluation error (such as
// a missing key) all fail the check.
type ExpressionCheck struct {
	Expression string
	Message    string
	program    cel.Program
}

// CompileExpression parses, type-checks and plans expression.
func CompileExpression(expression, message string) (*ExpressionCheck, error) {
	e, err := expressionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := e.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	switch out := ast.OutputType().String(); out {
	case "bool", "dyn":
	default:
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", out)
	}

	prog, err := e.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &ExpressionCheck{Expression: expression, Message: message, program: prog}, nil
}

func (c *ExpressionCheck) Check(rc *RuleContext) *RuleError {
	out, _, err := c.program.Eval(activation(rc))
	if err != nil {
		return &RuleError{
			Message: c.Message,
			Context: map[string]any{"expression": c.Expression, "evalError": err.Error()},
		}
	}

	if passed, ok := out.Value().(bool); ok && passed {
		return nil
	}
	return &RuleError{
		Message: c.Message,
		Context: map[string]any{"expression": c.Expression},
	}
}

func (c *ExpressionCheck) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"kind": "expression", "expression": c.Expression, "message": c.Message})
}

func activation(rc *RuleContext) map[string]any {
	roles := rc.UserRoles
	if roles == nil {
		roles = []string{}
	}
	return map[string]any{
		"data":      orEmpty(rc.Data),
		"previous":  orEmpty(rc.PreviousData),
		"operation": string(rc.Operation),
		"user":      map[string]any{"id": rc.UserID, "roles": roles},
		"metadata":  orEmpty(rc.Metadata),
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// NewExpressionRule builds a rule of type t whose logic is a CEL expression.
// Priority defaults to the builder priority for t.
func NewExpressionRule(id, name, entity string, t RuleType, expression, message string) (*Rule, error) {
	check, err := CompileExpression(expression, message)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}
	return &Rule{
		ID:       id,
		Name:     name,
		Type:     t,
		Entity:   entity,
		Priority: DefaultPriority(t),
		Enabled:  true,
		Check:    check,
	}, nil
}

// MustExpressionRule is NewExpressionRule for expressions fixed at compile
// time. It panics if the expression does not compile.
func MustExpressionRule(id, name, entity string, t RuleType, expression, message string) *Rule {
	r, err := NewExpressionRule(id, name, entity, t, expression, message)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultPriority is the builder priority for rules of type t.
func DefaultPriority(t RuleType) int {
	switch t {
	case TypeAuthorization:
		return PriorityAuthorization
	case TypeValidation:
		return PriorityValidation
	case TypeConstraint, TypeTrigger, TypeComputed:
		return PriorityConstraint
	default:
		return 0
	}
}
