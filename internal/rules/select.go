// internal/rules/select.go
package rules

import (
	"context"
	"sort"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Rule selection.
 *
 * Filters candidate rules to those that are enabled, scoped to the module and
 * accept the trigger event, then orders them by ascending priority (1 first).
 * Rules with equal priority keep their relative order from the rule source
 * (creation order), so repeated runs execute in the same sequence.
 */

// RuleSource lists candidate rules for a module and trigger event.
// Implementations may pre-filter; Selector filters again regardless.
type RuleSource interface {
	ListEnabledRules(ctx context.Context, module types.Module, trigger types.Trigger) ([]types.Rule, error)
}

// Selector fetches and orders rules for one trigger event.
type Selector struct {
	source RuleSource
}

// NewSelector creates a selector over source.
func NewSelector(source RuleSource) *Selector {
	return &Selector{source: source}
}

// Select returns the rules to run for module under trigger, in execution order.
func (s *Selector) Select(ctx context.Context, module types.Module, trigger types.Trigger) ([]types.Rule, error) {
	candidates, err := s.source.ListEnabledRules(ctx, module, trigger)
	if err != nil {
		return nil, err
	}
	return SelectRules(candidates, module, trigger), nil
}

// SelectRules filters candidates and stable-sorts them by priority.
// The input slice is not modified.
func SelectRules(candidates []types.Rule, module types.Module, trigger types.Trigger) []types.Rule {
	selected := make([]types.Rule, 0, len(candidates))
	for _, r := range candidates {
		if !r.Enabled || r.Module != module || !r.Trigger.Accepts(trigger) {
			continue
		}
		selected = append(selected, r)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority < selected[j].Priority
	})
	return selected
}
