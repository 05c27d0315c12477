// internal/types/rules.go
package types

import "time"

/*
 * Domain types for rule evaluation.
 *
 * Provides Rule, Condition, Action and ModuleField used by internal/rules and
 * internal/engine. Rules are immutable snapshots: the engine only reads them,
 * and updates replace the whole condition/action list through the rule store.
 *
 * Key types:
 *   - Rule: named, prioritized condition+action unit scoped to one module
 *   - Condition: one atomic field test chained with AND/OR (positional fold)
 *   - Action: one side-effecting operation with a typed config payload
 *   - ModuleField: external field metadata (name, label, type)
 *   - PathSegment: one component of a dotted field path
 */

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsEmpty     Operator = "is_empty"
	OpIsNotEmpty  Operator = "is_not_empty"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpNotContains,
		OpGreaterThan, OpLessThan, OpIsEmpty, OpIsNotEmpty:
		return true
	default:
		return false
	}
}

// Unary reports whether op ignores the condition value.
func (op Operator) Unary() bool {
	return op == OpIsEmpty || op == OpIsNotEmpty
}

// LogicalOperator chains a condition to the fold accumulated before it.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Valid reports whether l is AND, OR, or unset (unset behaves as AND).
func (l LogicalOperator) Valid() bool {
	return l == "" || l == LogicalAnd || l == LogicalOr
}

// Condition is one atomic test against a resolved record field.
// LogicalOperator is consulted only for conditions at index > 0.
type Condition struct {
	ID              string          `json:"id"`
	Field           string          `json:"field"`
	Operator        Operator        `json:"operator"`
	Value           any             `json:"value,omitempty"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty"`
}

// Action is one side-effecting operation executed when a rule matches.
// Config is nil when the stored config could not be decoded; dispatch then
// records a ConfigurationError instead of failing the whole rule.
type Action struct {
	ID     string       `json:"id"`
	Type   ActionType   `json:"type"`
	Config ActionConfig `json:"-"`
}

// Rule is a named, prioritized condition+action automation unit.
type Rule struct {
	ID          RuleID
	Name        string
	Description string
	Module      Module
	Component   string // optional sub-scope within the module
	Trigger     Trigger
	Enabled     bool
	Priority    int // 1 (highest) .. 7 (lowest)
	Conditions  []Condition
	Actions     []Action
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// LoadErr is set when the stored rule body could not be decoded. Such a
	// rule never matches and its entry carries the error.
	LoadErr error
}

// FieldType is a module field's declared type.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
	FieldTypeEnum    FieldType = "enum"
)

// Valid reports whether ft is a known field type.
func (ft FieldType) Valid() bool {
	switch ft {
	case FieldTypeString, FieldTypeNumber, FieldTypeBoolean, FieldTypeDate, FieldTypeEnum:
		return true
	default:
		return false
	}
}

// ModuleField is external field metadata, consumed not owned.
type ModuleField struct {
	Name    string    `json:"name" yaml:"name"`
	Label   string    `json:"label" yaml:"label"`
	Type    FieldType `json:"type" yaml:"type"`
	Options []string  `json:"options,omitempty" yaml:"options,omitempty"` // enum only
}

// PathSegment represents one component of a dotted field path.
// Numeric segments index arrays; everything else is an object key.
type PathSegment struct {
	Key     string // object key (mutually exclusive with Index)
	Index   int    // array index
	IsIndex bool   // disambiguates Index=0 from unset
}
