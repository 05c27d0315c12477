// Package types provides domain models shared across RuleKeeper components.
//
// Rules, conditions, actions and the execution log are plain Go values with no
// storage or transport concerns. Conversion from persisted rows and wire
// payloads happens at the store and API boundaries (internal/core/db,
// internal/core/api); everything inside the engine operates on these types.
//
// Field values are modelled as a closed tagged type (see values.go) produced
// once by the field resolver, so evaluation and template rendering never
// reinterpret raw JSON.
package types

import "fmt"

// Module identifies a business entity category whose records rules evaluate.
type Module string

const (
	ModuleProjects      Module = "projects"
	ModuleTasks         Module = "tasks"
	ModuleDeals         Module = "deals"
	ModuleContacts      Module = "contacts"
	ModuleCommunication Module = "communication"
)

// Modules lists the closed set of supported modules in display order.
func Modules() []Module {
	return []Module{ModuleProjects, ModuleTasks, ModuleDeals, ModuleContacts, ModuleCommunication}
}

// Valid reports whether m belongs to the closed module set.
func (m Module) Valid() bool {
	switch m {
	case ModuleProjects, ModuleTasks, ModuleDeals, ModuleContacts, ModuleCommunication:
		return true
	default:
		return false
	}
}

// ParseModule validates and converts a string to Module.
func ParseModule(s string) (Module, error) {
	m := Module(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownModule, s)
	}
	return m, nil
}

// Trigger is the invocation mode a rule is eligible for.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAutomatic Trigger = "automatic"
	TriggerBoth      Trigger = "both"
)

// Valid reports whether t is one of manual, automatic or both.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerManual, TriggerAutomatic, TriggerBoth:
		return true
	default:
		return false
	}
}

// Accepts reports whether a rule with trigger t runs for an event of mode event.
// A rule configured for both modes runs for either event.
func (t Trigger) Accepts(event Trigger) bool {
	return t == event || t == TriggerBoth
}

// ParseTrigger validates and converts a string to Trigger.
// Trigger events are only ever manual or automatic; "both" is a rule setting.
func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrigger, s)
	}
	return t, nil
}

// Priority bounds. Lower numbers run first.
const (
	PriorityHighest = 1
	PriorityLowest  = 7
	PriorityDefault = 5
)

// Rule authoring limits carried over from the rule editor.
const (
	MinNameLength        = 3
	MaxNameLength        = 100
	MinDescriptionLength = 10
	MaxDescriptionLength = 500
	MinPromptLength      = 10
)

// DefaultModelID is the AI model used when an ai-analysis action leaves modelId
// unset and no engine default is configured.
const DefaultModelID = "gpt-3.5-turbo"
