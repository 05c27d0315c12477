// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Type coercion from raw record data to typed field values.
 *
 * Records arrive as loosely typed JSON (numbers as float64, dates as strings,
 * booleans occasionally as "true"). Coerce converts one raw value into the
 * types.Value variant for the field's declared type. Coercion failure yields a
 * *TypeMismatchError for that field only.
 *
 * Type rules:
 *   - string/enum: Lenient - numbers and booleans are formatted as text
 *   - number: numeric types and trimmed numeric strings; booleans rejected
 *   - boolean: bool, or a string strconv.ParseBool accepts
 *   - date: time.Time, RFC3339/date-only strings, or Unix milliseconds
 *
 * Arrays are accepted for any declared type and become ArrayValue with element
 * types inferred, so tags and recipient lists support contains.
 *
 * Null/nil returns (nil, nil): the field is present but null, which is_empty
 * treats the same as absent.
 */

// dateLayouts are tried in order when parsing date strings.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateTime,
	time.DateOnly,
}

// Coerce converts raw to the variant for fieldType.
func Coerce(field string, raw any, fieldType types.FieldType) (types.Value, error) {
	if raw == nil {
		return nil, nil
	}

	if arr, ok := asSlice(raw); ok {
		return coerceArray(field, arr)
	}

	switch fieldType {
	case types.FieldTypeString, types.FieldTypeEnum:
		return coerceString(field, raw, fieldType)
	case types.FieldTypeNumber:
		return coerceNumber(field, raw)
	case types.FieldTypeBoolean:
		return coerceBoolean(field, raw)
	case types.FieldTypeDate:
		return coerceDate(field, raw)
	default:
		return nil, &types.TypeMismatchError{Field: field, Expected: fieldType, Value: raw, Reason: "unknown field type"}
	}
}

// Infer converts raw to the variant matching its dynamic type. Used for array
// elements and condition operands where no field type is declared.
func Infer(raw any) (types.Value, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, true
	case string:
		return types.StringValue(v), true
	case bool:
		return types.BoolValue(v), true
	case time.Time:
		return types.DateValue(v.UTC()), true
	case types.Value:
		return v, true
	}
	if f, ok := toFloat64(raw); ok {
		return types.NumberValue(f), true
	}
	if arr, ok := asSlice(raw); ok {
		out := make(types.ArrayValue, 0, len(arr))
		for _, elem := range arr {
			ev, ok := Infer(elem)
			if !ok {
				return nil, false
			}
			if ev != nil {
				out = append(out, ev)
			}
		}
		return out, true
	}
	return nil, false
}

func coerceArray(field string, arr []any) (types.Value, error) {
	out := make(types.ArrayValue, 0, len(arr))
	for _, elem := range arr {
		v, ok := Infer(elem)
		if !ok {
			return nil, &types.TypeMismatchError{Field: field, Value: elem, Expected: types.FieldTypeString, Reason: "array elements must be scalar"}
		}
		// Null elements carry no information for membership tests
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// coerceString formats scalars as text. Objects are rejected since their
// text form is not stable.
func coerceString(field string, raw any, ft types.FieldType) (types.Value, error) {
	switch v := raw.(type) {
	case string:
		return types.StringValue(v), nil
	case bool:
		return types.StringValue(strconv.FormatBool(v)), nil
	case time.Time:
		return types.StringValue(types.DateValue(v.UTC()).String()), nil
	}
	if f, ok := toFloat64(raw); ok {
		return types.StringValue(types.NumberValue(f).String()), nil
	}
	return nil, &types.TypeMismatchError{Field: field, Expected: ft, Value: raw}
}

// coerceNumber accepts numeric types and numeric strings.
// Whitespace-only strings and booleans are mismatches.
func coerceNumber(field string, raw any) (types.Value, error) {
	if f, ok := toFloat64(raw); ok {
		return types.NumberValue(f), nil
	}
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, &types.TypeMismatchError{Field: field, Expected: types.FieldTypeNumber, Value: raw, Reason: "empty string is not a number"}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &types.TypeMismatchError{Field: field, Expected: types.FieldTypeNumber, Value: raw}
		}
		return types.NumberValue(f), nil
	}
	return nil, &types.TypeMismatchError{Field: field, Expected: types.FieldTypeNumber, Value: raw}
}

func coerceBoolean(field string, raw any) (types.Value, error) {
	switch v := raw.(type) {
	case bool:
		return types.BoolValue(v), nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, &types.TypeMismatchError{Field: field, Expected: types.FieldTypeBoolean, Value: raw}
		}
		return types.BoolValue(b), nil
	default:
		return nil, &types.TypeMismatchError{Field: field, Expected: types.FieldTypeBoolean, Value: raw}
	}
}

// coerceDate parses dates to UTC. Numbers are Unix milliseconds, the form
// JavaScript clients serialize Date.now() as.
func coerceDate(field string, raw any) (types.Value, error) {
	switch v := raw.(type) {
	case time.Time:
		return types.DateValue(v.UTC()), nil
	case string:
		if t, ok := parseDate(v); ok {
			return types.DateValue(t), nil
		}
		return nil, &types.TypeMismatchError{Field: field, Expected: types.FieldTypeDate, Value: raw}
	}
	if f, ok := toFloat64(raw); ok {
		return types.DateValue(time.UnixMilli(int64(f)).UTC()), nil
	}
	return nil, &types.TypeMismatchError{Field: field, Expected: types.FieldTypeDate, Value: raw}
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// toFloat64 converts value to float64 if it's a numeric type.
// Handles float64 from JSON unmarshaling, json.Number from UseNumber decoders,
// and Go integer types from callers building records by hand.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case types.NumberValue:
		return float64(n), true
	default:
		return 0, false
	}
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, elem := range s {
			out[i] = elem
		}
		return out, true
	case types.ArrayValue:
		out := make([]any, len(s))
		for i, elem := range s {
			out[i] = elem
		}
		return out, true
	default:
		return nil, false
	}
}
