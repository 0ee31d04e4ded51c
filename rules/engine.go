package rules

import (
	"fmt"

	"github.com/liamcoop/prepbook/internal/logger"
)

// Engine evaluates registered rules against a RuleContext. It performs no
// I/O and holds no state besides the registry, so one Engine serves
// concurrent requests.
type Engine struct {
	registry *Registry
}

// NewEngine creates an engine over reg
func NewEngine(reg *Registry) *Engine {
	return &Engine{registry: reg}
}

// Registry returns the registry the engine reads from
func (en *Engine) Registry() *Registry {
	return en.registry
}

// Options selects rules and the short-circuit policy for EvaluateRules.
// The zero value runs every rule type and stops on the first blocking error.
type Options struct {
	Types           []RuleType
	ContinueOnError bool
}

// EvaluateRules runs the applicable rules for rc in dependency order.
//
// A blocking failure is recorded in Errors and, unless ContinueOnError is
// set, stops evaluation immediately. Warning and info failures are recorded
// in Warnings and never stop evaluation. RulesEvaluated counts the rules that
// were actually invoked.
func (en *Engine) EvaluateRules(rc *RuleContext, opts Options) *EvaluationResult {
	candidates := en.selectRules(rc.Entity, opts.Types)
	ordered, cycles := SortByDependencies(candidates)
	for _, path := range cycles {
		logger.WarnCycle(rc.Entity, path)
	}

	result := &EvaluationResult{
		Errors:   []RuleError{},
		Warnings: []RuleError{},
		Cycles:   cycles,
	}

	for _, rule := range ordered {
		result.RulesEvaluated++

		re := evaluateSafely(rule, rc)
		if re == nil {
			continue
		}

		if re.Severity.Blocking() {
			result.Errors = append(result.Errors, *re)
			if !opts.ContinueOnError {
				break
			}
			continue
		}
		result.Warnings = append(result.Warnings, *re)
	}

	result.Passed = len(result.Errors) == 0
	return result
}

// ValidateInput runs validation rules and collects every failure, so a form
// can show all field errors at once.
func (en *Engine) ValidateInput(rc *RuleContext) *EvaluationResult {
	return en.EvaluateRules(rc, Options{Types: []RuleType{TypeValidation}, ContinueOnError: true})
}

// CheckConstraints runs constraint rules, stopping at the first error.
func (en *Engine) CheckConstraints(rc *RuleContext) *EvaluationResult {
	return en.EvaluateRules(rc, Options{Types: []RuleType{TypeConstraint}})
}

// CheckAuthorization runs authorization rules, stopping at the first error.
func (en *Engine) CheckAuthorization(rc *RuleContext) *EvaluationResult {
	return en.EvaluateRules(rc, Options{Types: []RuleType{TypeAuthorization}})
}

// selectRules gathers enabled rules for entity, restricted to types when
// given.
func (en *Engine) selectRules(entity string, types []RuleType) []*Rule {
	if len(types) == 0 {
		return en.registry.ByEntity(entity)
	}
	return en.registry.ByEntityAndTypes(entity, types...)
}

// evaluateSafely converts a panicking rule into a blocking RuleError so the
// remaining rules and the caller are unaffected.
func evaluateSafely(rule *Rule, rc *RuleContext) (re *RuleError) {
	defer func() {
		if p := recover(); p != nil {
			logger.ErrorRuleFault(rule.ID, p)
			re = &RuleError{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Message:  fmt.Sprintf("rule %s failed unexpectedly", rule.ID),
				Severity: SeverityError,
				Field:    rule.Field,
				Code:     CodeInternalRuleFailure,
				Context:  map[string]any{"panic": fmt.Sprint(p)},
			}
		}
	}()
	return rule.Evaluate(rc)
}
