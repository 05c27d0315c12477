// internal/rules/operators.go
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Operator comparison logic.
 *
 * Implements the eight condition operators over typed field values. The field
 * side is already a types.Value from the resolver; the operand side is the
 * raw condition value and is coerced here to the field's kind before
 * comparison.
 *
 * Operators:
 *   - equals/not_equals: exact equality, case-sensitive for strings
 *   - contains/not_contains: substring for strings, membership for arrays
 *   - greater_than/less_than: numbers or dates only, TypeMismatch otherwise
 *   - is_empty/is_not_empty: absent, null, "" or [] (operand ignored)
 *
 * An absent or null field never errors: equals and contains are false, their
 * negations true, and ordering comparisons false.
 */

// Compare applies op to the field value v and the condition operand.
func Compare(op types.Operator, field string, v types.Value, operand any) (bool, error) {
	switch op {
	case types.OpIsEmpty:
		return IsEmpty(v), nil
	case types.OpIsNotEmpty:
		return !IsEmpty(v), nil
	case types.OpEquals:
		return compareEqual(field, v, operand)
	case types.OpNotEquals:
		eq, err := compareEqual(field, v, operand)
		return !eq, err
	case types.OpContains:
		return compareContains(field, v, operand)
	case types.OpNotContains:
		c, err := compareContains(field, v, operand)
		return !c, err
	case types.OpGreaterThan:
		c, ok, err := compareOrdered(field, v, operand, op)
		return ok && c > 0, err
	case types.OpLessThan:
		c, ok, err := compareOrdered(field, v, operand, op)
		return ok && c < 0, err
	default:
		return false, fmt.Errorf("%w: %q", types.ErrInvalidOperator, op)
	}
}

// IsEmpty reports whether v is absent, null, the empty string or an empty array.
func IsEmpty(v types.Value) bool {
	switch x := v.(type) {
	case nil:
		return true
	case types.StringValue:
		return x == ""
	case types.ArrayValue:
		return len(x) == 0
	default:
		return false
	}
}

// compareEqual coerces the operand to v's kind and tests exact equality.
// A null field equals only a null operand.
func compareEqual(field string, v types.Value, operand any) (bool, error) {
	if v == nil {
		return operand == nil, nil
	}
	if operand == nil {
		return false, nil
	}
	target, err := coerceOperand(field, v, operand)
	if err != nil {
		return false, err
	}
	return valuesEqual(v, target), nil
}

// compareContains tests substring containment for strings and membership for
// arrays. Other kinds have no containment relation.
func compareContains(field string, v types.Value, operand any) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case types.StringValue:
		if operand == nil {
			return false, nil
		}
		needle, err := coerceString(field, operand, types.FieldTypeString)
		if err != nil {
			return false, err
		}
		return strings.Contains(string(x), types.ValueString(needle)), nil
	case types.ArrayValue:
		elem, ok := Infer(operand)
		if !ok || elem == nil {
			return false, nil
		}
		for _, member := range x {
			if looseEqual(member, elem) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, &types.TypeMismatchError{
			Field:  field,
			Value:  types.Native(v),
			Reason: fmt.Sprintf("contains requires a string or array field, got %s", v.Kind()),
		}
	}
}

// compareOrdered performs three-way comparison for numbers and dates.
// ok is false when the field is null; the comparison is then simply false.
func compareOrdered(field string, v types.Value, operand any, op types.Operator) (int, bool, error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case types.NumberValue:
		target, err := coerceNumber(field, operand)
		if err != nil {
			return 0, false, err
		}
		return compareFloat(float64(x), float64(target.(types.NumberValue))), true, nil
	case types.DateValue:
		target, err := coerceDate(field, operand)
		if err != nil {
			return 0, false, err
		}
		return compareTime(x.Time(), target.(types.DateValue).Time()), true, nil
	default:
		return 0, false, &types.TypeMismatchError{
			Field:  field,
			Value:  types.Native(v),
			Reason: fmt.Sprintf("%s requires a number or date field, got %s", op, v.Kind()),
		}
	}
}

// coerceOperand converts a raw condition value to the same variant as v.
func coerceOperand(field string, v types.Value, operand any) (types.Value, error) {
	switch v.(type) {
	case types.StringValue:
		return coerceString(field, operand, types.FieldTypeString)
	case types.NumberValue:
		return coerceNumber(field, operand)
	case types.BoolValue:
		return coerceBoolean(field, operand)
	case types.DateValue:
		return coerceDate(field, operand)
	case types.ArrayValue:
		target, ok := Infer(operand)
		if !ok {
			return nil, &types.TypeMismatchError{Field: field, Value: operand, Reason: "operand cannot be compared with an array"}
		}
		if _, isArray := target.(types.ArrayValue); !isArray {
			return nil, &types.TypeMismatchError{Field: field, Value: operand, Reason: "equals on an array field requires an array operand"}
		}
		return target, nil
	default:
		return nil, &types.TypeMismatchError{Field: field, Value: operand}
	}
}

// valuesEqual compares two values of the same variant.
func valuesEqual(a, b types.Value) bool {
	switch x := a.(type) {
	case types.StringValue, types.NumberValue, types.BoolValue:
		return a == b
	case types.DateValue:
		y, ok := b.(types.DateValue)
		return ok && x.Time().Equal(y.Time())
	case types.ArrayValue:
		y, ok := b.(types.ArrayValue)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !looseEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// looseEqual compares array members, falling back to text form when the
// variants differ (a tag list of strings tested against a numeric operand).
func looseEqual(a, b types.Value) bool {
	if types.KindOfValue(a) == types.KindOfValue(b) {
		return valuesEqual(a, b)
	}
	return types.ValueString(a) == types.ValueString(b)
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
