// internal/rules/evaluate.go
package rules

import (
	"fmt"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Condition evaluation.
 *
 * Evaluates an ordered condition list as a strict left-to-right fold with no
 * operator precedence: result starts as condition[0], then each condition i
 * combines as result OR ci when its logicalOperator is OR, result AND ci
 * otherwise. [A, B(AND), C(OR)] is (A AND B) OR C. The logicalOperator of
 * condition[0] is never consulted.
 *
 * An empty list never matches.
 *
 * Every condition is evaluated even when the fold result is already decided.
 * A condition naming an unknown field therefore fails the rule regardless of
 * position, instead of depending on the values of earlier conditions.
 *
 * Failure semantics: the first error aborts evaluation and the rule counts as
 * not matched. The caller records the error in the rule's log entry.
 */

// FieldLookup resolves a condition field to its typed value.
// Implemented by *Resolution.
type FieldLookup interface {
	Lookup(field string) (types.Value, error)
}

// ConditionError identifies the condition that failed evaluation.
type ConditionError struct {
	Index       int
	ConditionID string
	Err         error
}

func (e *ConditionError) Error() string {
	if e.ConditionID != "" {
		return fmt.Sprintf("condition %d (%s): %v", e.Index, e.ConditionID, e.Err)
	}
	return fmt.Sprintf("condition %d: %v", e.Index, e.Err)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// Evaluate folds conditions left to right against fields.
// Returns false with a *ConditionError on the first failing condition.
func Evaluate(conditions []types.Condition, fields FieldLookup) (bool, error) {
	if len(conditions) == 0 {
		return false, nil
	}

	var result bool
	for i, cond := range conditions {
		c, err := EvaluateCondition(cond, fields)
		if err != nil {
			return false, &ConditionError{Index: i, ConditionID: cond.ID, Err: err}
		}
		if i == 0 {
			result = c
			continue
		}
		result = Combine(result, cond.LogicalOperator, c)
	}
	return result, nil
}

// Combine folds one atomic result into the accumulated result.
// Anything other than OR combines as AND.
func Combine(acc bool, op types.LogicalOperator, c bool) bool {
	if op == types.LogicalOr {
		return acc || c
	}
	return acc && c
}

// EvaluateCondition computes one condition's atomic result.
func EvaluateCondition(cond types.Condition, fields FieldLookup) (bool, error) {
	if !cond.Operator.Valid() {
		return false, fmt.Errorf("%w: %q", types.ErrInvalidOperator, cond.Operator)
	}

	v, err := fields.Lookup(cond.Field)
	if err != nil {
		return false, err
	}

	return Compare(cond.Operator, cond.Field, v, cond.Value)
}
