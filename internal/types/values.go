package types

import (
	"strconv"
	"strings"
	"time"
)

/*
 * Tagged field values.
 *
 * Value is a closed set: StringValue, NumberValue, BoolValue, DateValue and
 * ArrayValue. The unexported marker method keeps other packages from adding
 * variants, so type switches over Value are exhaustive.
 *
 * Null is represented by a nil Value stored in a FieldMap (field present but
 * null) or by the key being absent (field missing from the record). Both count
 * as empty for is_empty.
 */

// ValueKind names the variant held by a Value.
type ValueKind string

const (
	KindNull   ValueKind = "null"
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindBool   ValueKind = "boolean"
	KindDate   ValueKind = "date"
	KindArray  ValueKind = "array"
)

// Value is a resolved, typed field value.
type Value interface {
	Kind() ValueKind
	// String renders the value for templates and text comparison.
	String() string
	value()
}

// StringValue holds string and enum fields.
type StringValue string

// NumberValue holds numeric fields as float64.
type NumberValue float64

// BoolValue holds boolean fields.
type BoolValue bool

// DateValue holds date fields, normalized to UTC.
type DateValue time.Time

// ArrayValue holds array-valued fields (tags, recipients).
type ArrayValue []Value

func (StringValue) Kind() ValueKind { return KindString }
func (NumberValue) Kind() ValueKind { return KindNumber }
func (BoolValue) Kind() ValueKind   { return KindBool }
func (DateValue) Kind() ValueKind   { return KindDate }
func (ArrayValue) Kind() ValueKind  { return KindArray }

func (v StringValue) String() string { return string(v) }

func (v NumberValue) String() string { return strconv.FormatFloat(float64(v), 'f', -1, 64) }

func (v BoolValue) String() string { return strconv.FormatBool(bool(v)) }

// String renders dates without a clock component when they fall on midnight UTC.
func (v DateValue) String() string {
	t := time.Time(v)
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339)
}

func (v ArrayValue) String() string {
	parts := make([]string, len(v))
	for i, elem := range v {
		parts[i] = ValueString(elem)
	}
	return strings.Join(parts, ", ")
}

func (StringValue) value() {}
func (NumberValue) value() {}
func (BoolValue) value()   {}
func (DateValue) value()   {}
func (ArrayValue) value()  {}

// Time returns the underlying time.
func (v DateValue) Time() time.Time { return time.Time(v) }

// ValueString renders v, returning "" for nil.
func ValueString(v Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// KindOfValue returns v's kind, KindNull for nil.
func KindOfValue(v Value) ValueKind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}

// Native converts v back to plain Go values for JSON payloads.
func Native(v Value) any {
	switch x := v.(type) {
	case nil:
		return nil
	case StringValue:
		return string(x)
	case NumberValue:
		return float64(x)
	case BoolValue:
		return bool(x)
	case DateValue:
		return time.Time(x).Format(time.RFC3339)
	case ArrayValue:
		out := make([]any, len(x))
		for i, elem := range x {
			out[i] = Native(elem)
		}
		return out
	default:
		return nil
	}
}

// FieldMap maps field name to resolved value. Read-only once produced by the
// resolver; nothing downstream mutates it.
type FieldMap map[string]Value

// Native converts the map to plain Go values, e.g. for webhook payloads.
func (m FieldMap) Native() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Native(v)
	}
	return out
}
