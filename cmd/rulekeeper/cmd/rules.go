package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/rulekeeper/internal/core/db"
	"github.com/solatis/rulekeeper/internal/rules"
	"github.com/solatis/rulekeeper/internal/types"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and manage stored rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules, optionally for one module",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesShowCmd = &cobra.Command{
	Use:   "show RULE_ID",
	Short: "Print one rule as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesShow,
}

var rulesToggleCmd = &cobra.Command{
	Use:   "toggle RULE_ID",
	Short: "Enable a disabled rule or disable an enabled one",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesToggle,
}

var rulesHistoryCmd = &cobra.Command{
	Use:   "history RULE_ID",
	Short: "Print a rule's execution history as JSON, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesHistory,
}

var rulesImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Create rules from a YAML rule set",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesImport,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesShowCmd, rulesToggleCmd, rulesHistoryCmd, rulesImportCmd)
	rulesListCmd.Flags().String("module", "", "only list rules for this module")
	rulesHistoryCmd.Flags().Int("limit", 20, "maximum entries to print")
	rulesHistoryCmd.Flags().Int("offset", 0, "entries to skip")
}

// ruleView is the JSON form printed by rules show.
type ruleView struct {
	ID          types.RuleID      `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Module      types.Module      `json:"module"`
	Component   string            `json:"component,omitempty"`
	Trigger     types.Trigger     `json:"trigger"`
	Enabled     bool              `json:"enabled"`
	Priority    int               `json:"priority"`
	Conditions  []types.Condition `json:"conditions"`
	Actions     []actionView      `json:"actions"`
	CreatedAt   string            `json:"createdAt"`
	UpdatedAt   string            `json:"updatedAt"`
	LoadError   string            `json:"loadError,omitempty"`
}

type actionView struct {
	ID     string           `json:"id"`
	Type   types.ActionType `json:"type"`
	Config map[string]any   `json:"config"`
}

func newRuleView(r types.Rule) (ruleView, error) {
	v := ruleView{
		ID: r.ID, Name: r.Name, Description: r.Description, Module: r.Module,
		Component: r.Component, Trigger: r.Trigger, Enabled: r.Enabled, Priority: r.Priority,
		Conditions: r.Conditions,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  r.UpdatedAt.Format(time.RFC3339),
	}
	if r.LoadErr != nil {
		v.LoadError = r.LoadErr.Error()
	}
	for _, a := range r.Actions {
		cfg, err := types.EncodeActionConfig(a.Config)
		if err != nil {
			return ruleView{}, err
		}
		v.Actions = append(v.Actions, actionView{ID: a.ID, Type: a.Type, Config: cfg})
	}
	return v, nil
}

// openRuleStore opens the configured database for the rules subcommands.
func openRuleStore(ctx context.Context) (*db.RuleStore, *db.ExecutionLog, func(), error) {
	cfg, _, err := setup()
	if err != nil {
		return nil, nil, nil, err
	}
	database, queries, err := openStore(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	return db.NewRuleStore(queries), db.NewExecutionLog(queries), func() { database.Close() }, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	var module types.Module
	if m, _ := cmd.Flags().GetString("module"); m != "" {
		parsed, err := types.ParseModule(m)
		if err != nil {
			return err
		}
		module = parsed
	}

	store, _, closeFn, err := openRuleStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	list, err := store.List(ctx, module)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODULE\tPRIORITY\tTRIGGER\tENABLED\tNAME")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\t%s\n", r.ID, r.Module, r.Priority, r.Trigger, r.Enabled, r.Name)
	}
	return w.Flush()
}

func runRulesShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, _, closeFn, err := openRuleStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	rule, err := store.Get(ctx, types.RuleID(args[0]))
	if err != nil {
		return err
	}
	view, err := newRuleView(rule)
	if err != nil {
		return err
	}
	return printJSON(cmd, view)
}

func runRulesToggle(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	store, _, closeFn, err := openRuleStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	id := types.RuleID(args[0])
	rule, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := store.SetEnabled(ctx, id, !rule.Enabled); err != nil {
		return err
	}
	state := "enabled"
	if rule.Enabled {
		state = "disabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rule %s %s\n", id, state)
	return nil
}

func runRulesHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	_, execLog, closeFn, err := openRuleStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := execLog.ListExecutions(ctx, types.RuleID(args[0]), limit, offset)
	if err != nil {
		return err
	}
	return printJSON(cmd, entries)
}

func runRulesImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read rule set: %w", err)
	}
	parsed, err := rules.ParseRuleSet(data)
	if err != nil {
		return err
	}

	store, _, closeFn, err := openRuleStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, r := range parsed {
		created, err := store.Create(ctx, r)
		if err != nil {
			return fmt.Errorf("import %q: %w", r.Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", created.ID, created.Name)
	}
	return nil
}
