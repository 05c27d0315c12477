package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * YAML rule sets.
 *
 * Rules can be authored as files and imported into the rule store:
 *
 *   rules:
 *     - name: Escalate large deals
 *       description: Tags large deals in negotiation
 *       module: deals
 *       trigger: automatic
 *       priority: 2
 *       conditions:
 *         - field: value
 *           operator: greater_than
 *           value: 10000
 *         - field: stage
 *           operator: equals
 *           value: NEGOTIATION
 *           logicalOperator: AND
 *       actions:
 *         - type: add-tag
 *           config: {tagName: large}
 *
 * Missing condition and action IDs are generated. enabled defaults to true.
 * Parsed rules are validated before they are returned.
 */

type ruleSetFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Module      string          `yaml:"module"`
	Component   string          `yaml:"component"`
	Trigger     string          `yaml:"trigger"`
	Enabled     *bool           `yaml:"enabled"`
	Priority    int             `yaml:"priority"`
	Conditions  []conditionSpec `yaml:"conditions"`
	Actions     []actionSpec    `yaml:"actions"`
}

type conditionSpec struct {
	ID              string `yaml:"id"`
	Field           string `yaml:"field"`
	Operator        string `yaml:"operator"`
	Value           any    `yaml:"value"`
	LogicalOperator string `yaml:"logicalOperator"`
}

type actionSpec struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}

// ParseRuleSet decodes and validates a YAML rule set.
// Returns an error naming the first rule that fails.
func ParseRuleSet(data []byte) ([]types.Rule, error) {
	var file ruleSetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}

	out := make([]types.Rule, 0, len(file.Rules))
	for i, entry := range file.Rules {
		rule, err := entry.toRule()
		if err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, entry.Name, err)
		}
		if err := Validate(&rule); err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, entry.Name, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s ruleEntry) toRule() (types.Rule, error) {
	rule := types.Rule{
		ID:          types.RuleID(s.ID),
		Name:        s.Name,
		Description: s.Description,
		Module:      types.Module(s.Module),
		Component:   s.Component,
		Trigger:     types.Trigger(s.Trigger),
		Enabled:     s.Enabled == nil || *s.Enabled,
		Priority:    s.Priority,
	}
	if rule.Priority == 0 {
		rule.Priority = types.PriorityDefault
	}

	for _, c := range s.Conditions {
		id := c.ID
		if id == "" {
			id = types.NewItemID()
		}
		rule.Conditions = append(rule.Conditions, types.Condition{
			ID:              id,
			Field:           c.Field,
			Operator:        types.Operator(c.Operator),
			Value:           normalizeYAML(c.Value),
			LogicalOperator: types.LogicalOperator(c.LogicalOperator),
		})
	}

	for _, a := range s.Actions {
		id := a.ID
		if id == "" {
			id = types.NewItemID()
		}
		actionType := types.ActionType(a.Type)
		cfg, err := types.DecodeActionConfig(actionType, a.Config)
		if err != nil {
			return types.Rule{}, err
		}
		rule.Actions = append(rule.Actions, types.Action{ID: id, Type: actionType, Config: cfg})
	}
	return rule, nil
}

// normalizeYAML converts YAML integers to float64 so condition operands
// match the JSON-decoded form stored in the rule store.
func normalizeYAML(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return v
	}
}
