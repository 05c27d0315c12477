// internal/rules/validate.go
package rules

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Rule validation at the authoring boundary.
 *
 * Validate enforces the rule editor's limits when a rule is created or
 * replaced through the rule store. The engine never calls it: evaluation is
 * lazy and tolerant, and a rule that was valid when saved may reference fields
 * that metadata has since dropped.
 *
 * All problems are collected so an editor can show them together.
 *
 * Checks:
 *   - name 3-100 chars, description 10-500 chars (trimmed, in runes)
 *   - module and trigger in their closed sets, priority 1..7
 *   - at least one condition and one action
 *   - known operators; non-unary operators carry a value
 *   - per-action required config (ai-analysis prompt >= 10 chars, webhook
 *     absolute http(s) URL)
 */

// ValidationError lists every problem found in a rule.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == types.ErrInvalidRule }

// Validate checks rule against the authoring limits.
// Returns *ValidationError (matching ErrInvalidRule) if any check fails.
func Validate(rule *types.Rule) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	name := strings.TrimSpace(rule.Name)
	if n := utf8.RuneCountInString(name); n < types.MinNameLength || n > types.MaxNameLength {
		add("name must be %d-%d characters", types.MinNameLength, types.MaxNameLength)
	}
	desc := strings.TrimSpace(rule.Description)
	if n := utf8.RuneCountInString(desc); n < types.MinDescriptionLength || n > types.MaxDescriptionLength {
		add("description must be %d-%d characters", types.MinDescriptionLength, types.MaxDescriptionLength)
	}
	if !rule.Module.Valid() {
		add("unknown module %q", rule.Module)
	}
	if !rule.Trigger.Valid() {
		add("invalid trigger %q", rule.Trigger)
	}
	if rule.Priority < types.PriorityHighest || rule.Priority > types.PriorityLowest {
		add("priority must be between %d and %d", types.PriorityHighest, types.PriorityLowest)
	}

	if len(rule.Conditions) == 0 {
		add("at least one condition is required")
	}
	for i, cond := range rule.Conditions {
		problems = append(problems, validateCondition(i, cond)...)
	}

	if len(rule.Actions) == 0 {
		add("at least one action is required")
	}
	for i, action := range rule.Actions {
		problems = append(problems, validateAction(i, action)...)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateCondition(i int, cond types.Condition) []string {
	var problems []string
	if strings.TrimSpace(cond.Field) == "" {
		problems = append(problems, fmt.Sprintf("condition %d: field is required", i))
	} else if _, err := ParsePath(cond.Field); err != nil {
		problems = append(problems, fmt.Sprintf("condition %d: %v", i, err))
	}
	if !cond.Operator.Valid() {
		problems = append(problems, fmt.Sprintf("condition %d: unknown operator %q", i, cond.Operator))
	} else if !cond.Operator.Unary() && cond.Value == nil {
		problems = append(problems, fmt.Sprintf("condition %d: %s requires a value", i, cond.Operator))
	}
	if !cond.LogicalOperator.Valid() {
		problems = append(problems, fmt.Sprintf("condition %d: unknown logical operator %q", i, cond.LogicalOperator))
	}
	return problems
}

func validateAction(i int, action types.Action) []string {
	if !action.Type.Valid() {
		return []string{fmt.Sprintf("action %d: unknown type %q", i, action.Type)}
	}
	if action.Config == nil {
		return []string{fmt.Sprintf("action %d: %s config is required", i, action.Type)}
	}
	if action.Config.ActionType() != action.Type {
		return []string{fmt.Sprintf("action %d: config is for %s, not %s", i, action.Config.ActionType(), action.Type)}
	}
	if err := action.Config.Validate(); err != nil {
		return []string{fmt.Sprintf("action %d: %v", i, err)}
	}

	switch cfg := action.Config.(type) {
	case types.AIAnalysisConfig:
		if utf8.RuneCountInString(strings.TrimSpace(cfg.Prompt)) < types.MinPromptLength {
			return []string{fmt.Sprintf("action %d: prompt must be at least %d characters", i, types.MinPromptLength)}
		}
	case types.CustomWebhookConfig:
		if !validWebhookURL(cfg.URL) {
			return []string{fmt.Sprintf("action %d: url must be an absolute http(s) URL", i)}
		}
	}
	return nil
}

// validWebhookURL accepts absolute http(s) URLs. Placeholders in the path or
// query are allowed since they render before dispatch.
func validWebhookURL(raw string) bool {
	u, err := url.Parse(placeholderPattern.ReplaceAllString(raw, "x"))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
