package rules

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/solatis/rulekeeper/internal/types"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		fieldType types.FieldType
		want      types.Value
		wantErr   error
	}{
		// number
		{
			name:      "number: string to float64",
			value:     "25",
			fieldType: types.FieldTypeNumber,
			want:      types.NumberValue(25),
		},
		{
			name:      "number: float64 passthrough",
			value:     42.5,
			fieldType: types.FieldTypeNumber,
			want:      types.NumberValue(42.5),
		},
		{
			name:      "number: int to float64",
			value:     100,
			fieldType: types.FieldTypeNumber,
			want:      types.NumberValue(100),
		},
		{
			name:      "number: json.Number",
			value:     json.Number("7.5"),
			fieldType: types.FieldTypeNumber,
			want:      types.NumberValue(7.5),
		},
		{
			name:      "number: string with whitespace",
			value:     "  42  ",
			fieldType: types.FieldTypeNumber,
			want:      types.NumberValue(42),
		},
		{
			name:      "number: whitespace only",
			value:     "   ",
			fieldType: types.FieldTypeNumber,
			wantErr:   types.ErrTypeMismatch,
		},
		{
			name:      "number: non-numeric string",
			value:     "abc",
			fieldType: types.FieldTypeNumber,
			wantErr:   types.ErrTypeMismatch,
		},
		{
			name:      "number: boolean rejected",
			value:     true,
			fieldType: types.FieldTypeNumber,
			wantErr:   types.ErrTypeMismatch,
		},

		// string and enum
		{
			name:      "string: passthrough",
			value:     "hello",
			fieldType: types.FieldTypeString,
			want:      types.StringValue("hello"),
		},
		{
			name:      "string: number formatted",
			value:     90.0,
			fieldType: types.FieldTypeString,
			want:      types.StringValue("90"),
		},
		{
			name:      "string: boolean formatted",
			value:     false,
			fieldType: types.FieldTypeString,
			want:      types.StringValue("false"),
		},
		{
			name:      "enum: passthrough",
			value:     "HIGH",
			fieldType: types.FieldTypeEnum,
			want:      types.StringValue("HIGH"),
		},
		{
			name:      "string: object rejected",
			value:     map[string]any{"a": 1},
			fieldType: types.FieldTypeString,
			wantErr:   types.ErrTypeMismatch,
		},

		// boolean
		{
			name:      "boolean: passthrough",
			value:     true,
			fieldType: types.FieldTypeBoolean,
			want:      types.BoolValue(true),
		},
		{
			name:      "boolean: string true",
			value:     "true",
			fieldType: types.FieldTypeBoolean,
			want:      types.BoolValue(true),
		},
		{
			name:      "boolean: string garbage",
			value:     "yes please",
			fieldType: types.FieldTypeBoolean,
			wantErr:   types.ErrTypeMismatch,
		},
		{
			name:      "boolean: number rejected",
			value:     1.0,
			fieldType: types.FieldTypeBoolean,
			wantErr:   types.ErrTypeMismatch,
		},

		// date
		{
			name:      "date: date only",
			value:     "2024-03-15",
			fieldType: types.FieldTypeDate,
			want:      types.DateValue(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
		},
		{
			name:      "date: RFC3339 normalized to UTC",
			value:     "2024-03-15T12:00:00+02:00",
			fieldType: types.FieldTypeDate,
			want:      types.DateValue(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)),
		},
		{
			name:      "date: unix milliseconds",
			value:     float64(1710460800000),
			fieldType: types.FieldTypeDate,
			want:      types.DateValue(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)),
		},
		{
			name:      "date: garbage",
			value:     "next tuesday",
			fieldType: types.FieldTypeDate,
			wantErr:   types.ErrTypeMismatch,
		},

		// null
		{
			name:      "null: any type",
			value:     nil,
			fieldType: types.FieldTypeNumber,
			want:      nil,
		},
		{
			name:      "unknown field type",
			value:     "x",
			fieldType: types.FieldType("blob"),
			wantErr:   types.ErrTypeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce("field", tt.value, tt.fieldType)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Coerce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if !sameValue(got, tt.want) {
				t.Errorf("Coerce() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCoerce_Arrays(t *testing.T) {
	got, err := Coerce("tags", []any{"vip", nil, 3.0, true}, types.FieldTypeString)
	if err != nil {
		t.Fatalf("Coerce() error = %v, want nil", err)
	}
	arr, ok := got.(types.ArrayValue)
	if !ok {
		t.Fatalf("Coerce() = %T, want ArrayValue", got)
	}
	want := types.ArrayValue{types.StringValue("vip"), types.NumberValue(3), types.BoolValue(true)}
	if !sameValue(arr, want) {
		t.Errorf("Coerce() = %#v, want %#v", arr, want)
	}

	if _, err := Coerce("tags", []any{map[string]any{}}, types.FieldTypeString); !errors.Is(err, types.ErrTypeMismatch) {
		t.Errorf("Coerce() nested object error = %v, want ErrTypeMismatch", err)
	}
}

func TestCoerce_MismatchCarriesField(t *testing.T) {
	_, err := Coerce("budget", "lots", types.FieldTypeNumber)
	var mismatch *types.TypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Coerce() error = %v, want *TypeMismatchError", err)
	}
	if mismatch.Field != "budget" {
		t.Errorf("Field = %v, want budget", mismatch.Field)
	}
	if mismatch.Expected != types.FieldTypeNumber {
		t.Errorf("Expected = %v, want number", mismatch.Expected)
	}
}

func TestInfer(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   types.Value
		wantOK bool
	}{
		{name: "nil", value: nil, want: nil, wantOK: true},
		{name: "string", value: "x", want: types.StringValue("x"), wantOK: true},
		{name: "int", value: 5, want: types.NumberValue(5), wantOK: true},
		{name: "bool", value: false, want: types.BoolValue(false), wantOK: true},
		{name: "typed value", value: types.StringValue("y"), want: types.StringValue("y"), wantOK: true},
		{name: "object", value: map[string]any{}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Infer(tt.value)
			if ok != tt.wantOK {
				t.Fatalf("Infer() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !sameValue(got, tt.want) {
				t.Errorf("Infer() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

// sameValue compares values structurally, including dates and arrays.
func sameValue(a, b types.Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	return valuesEqual(a, b)
}
