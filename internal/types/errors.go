package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for RuleKeeper operations.
var (
	// ErrUnknownField indicates a condition references a field absent from module metadata.
	ErrUnknownField = errors.New("unknown field")

	// ErrTypeMismatch indicates a value could not be coerced to the field's declared type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrConfiguration indicates missing or invalid action configuration.
	ErrConfiguration = errors.New("invalid action configuration")

	// ErrActionExecution indicates an external action handler failed.
	ErrActionExecution = errors.New("action execution failed")

	// ErrTimeout indicates an action exceeded its dispatch timeout.
	ErrTimeout = errors.New("action timed out")

	// ErrMissingVariable indicates a template placeholder had no field value.
	ErrMissingVariable = errors.New("missing template variable")

	// ErrUnknownModule indicates a module outside the closed module set.
	ErrUnknownModule = errors.New("unknown module")

	// ErrInvalidTrigger indicates a trigger outside manual/automatic/both.
	ErrInvalidTrigger = errors.New("invalid trigger")

	// ErrInvalidOperator indicates an unknown condition or logical operator.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrInvalidRule indicates a rule failed authoring validation.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrCorruptRule indicates a stored rule's conditions or actions could not be decoded.
	ErrCorruptRule = errors.New("stored rule could not be decoded")

	// ErrRuleNotFound indicates a rule ID does not exist in the rule store.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRecordNotFound indicates a record does not exist in the record store.
	ErrRecordNotFound = errors.New("record not found")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrFieldNotFound indicates a field path could not be resolved in a record.
	ErrFieldNotFound = errors.New("field not found")
)

// MaxPathDepth bounds dotted field paths (owner.address.city) during resolution.
const MaxPathDepth = 16

// UnknownFieldError reports a condition field missing from module metadata.
// Detected lazily at evaluation time since metadata can change after authoring.
type UnknownFieldError struct {
	Module Module
	Field  string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q in module %s", e.Field, e.Module)
}

func (e *UnknownFieldError) Is(target error) bool { return target == ErrUnknownField }

// TypeMismatchError reports a coercion or comparison failure for one field.
type TypeMismatchError struct {
	Field    string
	Expected FieldType
	Value    any
	Reason   string
}

func (e *TypeMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("type mismatch for field %q (expected %s): %s", e.Field, e.Expected, e.Reason)
	}
	return fmt.Sprintf("type mismatch for field %q: cannot use %v (%T) as %s", e.Field, e.Value, e.Value, e.Expected)
}

func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// ConfigurationError reports a required action config key that is missing or
// empty after rendering, or a config that could not be decoded.
type ConfigurationError struct {
	ActionType ActionType
	Key        string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", e.ActionType, e.Reason)
	}
	return fmt.Sprintf("%s: config %q %s", e.ActionType, e.Key, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ActionExecutionError wraps a failure returned by an external action handler.
// Provider-specific errors are treated uniformly through this type.
type ActionExecutionError struct {
	ActionType ActionType
	Err        error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.ActionType, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

func (e *ActionExecutionError) Is(target error) bool { return target == ErrActionExecution }

// TimeoutError reports an action dispatch that exceeded its timeout.
type TimeoutError struct {
	ActionType ActionType
	Timeout    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.ActionType, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}

// MissingVariableWarning is a non-fatal template rendering diagnostic: the
// placeholder is left in place and rendering continues.
type MissingVariableWarning struct {
	Name string
}

func (w *MissingVariableWarning) Error() string {
	return fmt.Sprintf("template variable {{%s}} has no value", w.Name)
}

func (w *MissingVariableWarning) Is(target error) bool { return target == ErrMissingVariable }

// ErrorKind classifies an error for persistence in the execution log.
type ErrorKind string

const (
	ErrorKindNone            ErrorKind = ""
	ErrorKindUnknownField    ErrorKind = "unknown_field"
	ErrorKindTypeMismatch    ErrorKind = "type_mismatch"
	ErrorKindConfiguration   ErrorKind = "configuration"
	ErrorKindActionExecution ErrorKind = "action_execution"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindCancelled       ErrorKind = "cancelled"
	ErrorKindCorruptRule     ErrorKind = "corrupt_rule"
	ErrorKindInternal        ErrorKind = "internal"
)

// KindOf maps err onto the error taxonomy. Timeouts are checked before
// execution errors since a handler may wrap a deadline in its own error.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrCorruptRule):
		return ErrorKindCorruptRule
	case errors.Is(err, ErrUnknownField):
		return ErrorKindUnknownField
	case errors.Is(err, ErrTypeMismatch):
		return ErrorKindTypeMismatch
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, ErrActionExecution):
		return ErrorKindActionExecution
	default:
		return ErrorKindInternal
	}
}
