package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/rulekeeper/internal/rules"
	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Rule persistence.
 *
 * Conditions and actions are stored as JSON columns. Action configs are
 * persisted as their key bag and decoded into typed payloads on read; a config
 * that no longer decodes (unknown type, bad values) loads with a nil Config so
 * the dispatcher reports it as a ConfigurationError at run time instead of the
 * whole rule failing to load. Conditions or actions JSON that does not decode
 * at all loads the rule with LoadErr set, so listing never fails on one bad row.
 *
 * Writes go through rules.Validate. Updates replace the full condition and
 * action lists; there are no partial edits.
 */

// ruleRow is the rules table shape.
type ruleRow struct {
	ID          string    `db:"rule_id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Module      string    `db:"module"`
	Component   string    `db:"component"`
	Trigger     string    `db:"trigger_mode"`
	Enabled     bool      `db:"enabled"`
	Priority    int       `db:"priority"`
	Conditions  string    `db:"conditions"`
	Actions     string    `db:"actions"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// storedAction is the persisted form of types.Action.
type storedAction struct {
	ID     string           `json:"id"`
	Type   types.ActionType `json:"type"`
	Config map[string]any   `json:"config"`
}

// RuleStore persists rules. It is the engine's rule source.
type RuleStore struct {
	q   *Queries
	now func() time.Time
}

// NewRuleStore creates a rule store over q.
func NewRuleStore(q *Queries) *RuleStore {
	return &RuleStore{q: q, now: func() time.Time { return time.Now().UTC() }}
}

// Create validates and inserts rule. A missing ID is generated and a zero
// priority takes the default. Returns the stored rule.
func (s *RuleStore) Create(ctx context.Context, rule types.Rule) (types.Rule, error) {
	if rule.ID == "" {
		rule.ID = types.NewRuleID()
	}
	if rule.Priority == 0 {
		rule.Priority = types.PriorityDefault
	}
	if err := rules.Validate(&rule); err != nil {
		return types.Rule{}, err
	}

	now := s.now()
	rule.CreatedAt, rule.UpdatedAt = now, now

	conditions, actions, err := encodeRuleBody(rule)
	if err != nil {
		return types.Rule{}, err
	}

	_, err = s.q.Exec(ctx, "insert-rule",
		rule.ID, rule.Name, rule.Description, rule.Module, rule.Component, rule.Trigger,
		rule.Enabled, rule.Priority, conditions, actions, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return types.Rule{}, fmt.Errorf("insert rule %s: %w", rule.ID, err)
	}
	return rule, nil
}

// Update validates rule and replaces the stored snapshot, conditions and
// actions included. CreatedAt is preserved.
// Returns types.ErrRuleNotFound if no rule has rule.ID.
func (s *RuleStore) Update(ctx context.Context, rule types.Rule) (types.Rule, error) {
	if err := rules.Validate(&rule); err != nil {
		return types.Rule{}, err
	}
	conditions, actions, err := encodeRuleBody(rule)
	if err != nil {
		return types.Rule{}, err
	}

	err = s.q.InTx(ctx, func(tx *Tx) error {
		var existing ruleRow
		if err := tx.Get(ctx, "get-rule", &existing, rule.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", types.ErrRuleNotFound, rule.ID)
			}
			return fmt.Errorf("load rule %s: %w", rule.ID, err)
		}

		rule.CreatedAt = existing.CreatedAt.UTC()
		rule.UpdatedAt = s.now()
		_, err := tx.Exec(ctx, "update-rule",
			rule.Name, rule.Description, rule.Module, rule.Component, rule.Trigger,
			rule.Enabled, rule.Priority, conditions, actions, rule.UpdatedAt, rule.ID)
		if err != nil {
			return fmt.Errorf("update rule %s: %w", rule.ID, err)
		}
		return nil
	})
	if err != nil {
		return types.Rule{}, err
	}
	return rule, nil
}

// SetEnabled toggles a rule without touching its definition.
func (s *RuleStore) SetEnabled(ctx context.Context, id types.RuleID, enabled bool) error {
	res, err := s.q.Exec(ctx, "set-rule-enabled", enabled, s.now(), id)
	if err != nil {
		return fmt.Errorf("set enabled on rule %s: %w", id, err)
	}
	return requireAffected(res, id)
}

// Delete removes a rule. Its execution history is kept.
func (s *RuleStore) Delete(ctx context.Context, id types.RuleID) error {
	res, err := s.q.Exec(ctx, "delete-rule", id)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return requireAffected(res, id)
}

// Get loads one rule.
// Returns types.ErrRuleNotFound if it does not exist.
func (s *RuleStore) Get(ctx context.Context, id types.RuleID) (types.Rule, error) {
	var row ruleRow
	if err := s.q.Get(ctx, "get-rule", &row, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Rule{}, fmt.Errorf("%w: %s", types.ErrRuleNotFound, id)
		}
		return types.Rule{}, fmt.Errorf("load rule %s: %w", id, err)
	}
	return row.toRule(), nil
}

// List returns all rules for module, or every rule when module is empty,
// ordered by priority then creation.
func (s *RuleStore) List(ctx context.Context, module types.Module) ([]types.Rule, error) {
	var rows []ruleRow
	var err error
	if module == "" {
		err = s.q.Select(ctx, "list-rules", &rows)
	} else {
		err = s.q.Select(ctx, "list-rules-by-module", &rows, module)
	}
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return toRules(rows), nil
}

// ListEnabledRules returns enabled rules for module that accept trigger, in
// priority then creation order. Implements rules.RuleSource.
func (s *RuleStore) ListEnabledRules(ctx context.Context, module types.Module, trigger types.Trigger) ([]types.Rule, error) {
	var rows []ruleRow
	if err := s.q.Select(ctx, "list-enabled-rules", &rows, module, true, trigger); err != nil {
		return nil, fmt.Errorf("list enabled rules for %s: %w", module, err)
	}
	return toRules(rows), nil
}

func toRules(rows []ruleRow) []types.Rule {
	out := make([]types.Rule, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRule())
	}
	return out
}

// toRule never fails: a body that does not decode leaves Conditions or
// Actions empty and records the cause in LoadErr.
func (row ruleRow) toRule() types.Rule {
	rule := types.Rule{
		ID:          types.RuleID(row.ID),
		Name:        row.Name,
		Description: row.Description,
		Module:      types.Module(row.Module),
		Component:   row.Component,
		Trigger:     types.Trigger(row.Trigger),
		Enabled:     row.Enabled,
		Priority:    row.Priority,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}

	var loadErrs []error
	if err := json.Unmarshal([]byte(row.Conditions), &rule.Conditions); err != nil {
		rule.Conditions = nil
		loadErrs = append(loadErrs, fmt.Errorf("%w: conditions of rule %s: %v", types.ErrCorruptRule, row.ID, err))
	}

	var stored []storedAction
	if err := json.Unmarshal([]byte(row.Actions), &stored); err != nil {
		stored = nil
		loadErrs = append(loadErrs, fmt.Errorf("%w: actions of rule %s: %v", types.ErrCorruptRule, row.ID, err))
	}
	rule.LoadErr = errors.Join(loadErrs...)
	rule.Actions = make([]types.Action, 0, len(stored))
	for _, a := range stored {
		action := types.Action{ID: a.ID, Type: a.Type}
		if cfg, err := types.DecodeActionConfig(a.Type, a.Config); err == nil {
			action.Config = cfg
		}
		rule.Actions = append(rule.Actions, action)
	}
	return rule
}

// encodeRuleBody serializes conditions and actions for the JSON columns.
func encodeRuleBody(rule types.Rule) (conditions, actions string, err error) {
	conds := rule.Conditions
	if conds == nil {
		conds = []types.Condition{}
	}
	c, err := json.Marshal(conds)
	if err != nil {
		return "", "", fmt.Errorf("encode conditions: %w", err)
	}

	stored := make([]storedAction, 0, len(rule.Actions))
	for _, a := range rule.Actions {
		bag := map[string]any{}
		if a.Config != nil {
			if bag, err = types.EncodeActionConfig(a.Config); err != nil {
				return "", "", fmt.Errorf("encode action %s: %w", a.ID, err)
			}
		}
		stored = append(stored, storedAction{ID: a.ID, Type: a.Type, Config: bag})
	}
	acts, err := json.Marshal(stored)
	if err != nil {
		return "", "", fmt.Errorf("encode actions: %w", err)
	}
	return string(c), string(acts), nil
}

func requireAffected(res sql.Result, id types.RuleID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", types.ErrRuleNotFound, id)
	}
	return nil
}
