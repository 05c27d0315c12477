package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/rulekeeper/internal/core/db"
	"github.com/solatis/rulekeeper/internal/types"
)

const ruleSetYAML = `
rules:
  - name: Escalate large deals
    description: Tags large deals in negotiation
    module: deals
    trigger: automatic
    priority: 1
    conditions:
      - field: value
        operator: greater_than
        value: 10000
      - field: stage
        operator: equals
        value: NEGOTIATION
        logicalOperator: AND
    actions:
      - type: add-tag
        config: {tagName: large}
      - type: create-task
        config: {title: "Call {{clientName}}", priority: high}
`

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	require.NoError(t, rootCmd.Execute(), "rulekeeper %s", strings.Join(args, " "))
	return out.String()
}

func TestCLI_ImportRunHistory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RK_LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("RK_AI_API_KEY", "")
	url := "sqlite://" + filepath.Join(dir, "rk.db")
	common := []string{"--db-url", url, "--log-level", "error"}

	out := execute(t, append([]string{"migrate"}, common...)...)
	assert.Contains(t, out, "1 migration(s) applied")

	out = execute(t, append([]string{"migrate", "--status"}, common...)...)
	assert.Contains(t, out, "001_initial_schema.sql")
	assert.Contains(t, out, "applied")

	rulesFile := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesFile, []byte(ruleSetYAML), 0644))
	out = execute(t, append([]string{"rules", "import", rulesFile}, common...)...)
	fields := strings.Fields(out)
	require.NotEmpty(t, fields)
	ruleID := fields[0]

	out = execute(t, append([]string{"rules", "list", "--module", "deals"}, common...)...)
	assert.Contains(t, out, "Escalate large deals")
	assert.Contains(t, out, ruleID)

	out = execute(t, append([]string{"rules", "show", ruleID}, common...)...)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "automatic", shown["trigger"])

	// Records are owned by the CRM; seed one directly.
	seedRecord(t, url, types.ModuleDeals, "d1", map[string]any{
		"clientName": "Acme", "value": 50000, "stage": "NEGOTIATION",
	})

	out = execute(t, append([]string{"run", "--module", "deals", "--record", "d1", "--trigger", "automatic"}, common...)...)
	var entries []types.ExecutionLogEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Matched)
	require.Len(t, entries[0].ActionResults, 2)
	for _, r := range entries[0].ActionResults {
		assert.Equal(t, types.ActionSuccess, r.Status, "%+v", r)
	}

	out = execute(t, append([]string{"rules", "history", ruleID}, common...)...)
	var history []types.ExecutionLogEntry
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 1)
	assert.Equal(t, entries[0].ID, history[0].ID)

	logs, err := filepath.Glob(filepath.Join(dir, "logs", "executions", "*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	out = execute(t, append([]string{"rules", "toggle", ruleID}, common...)...)
	assert.Contains(t, out, "disabled")

	out = execute(t, append([]string{"run", "--module", "deals", "--record", "d1", "--trigger", "automatic"}, common...)...)
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Empty(t, entries)
}

func TestCLI_RunRejectsBothTrigger(t *testing.T) {
	rootCmd.SetArgs([]string{"run", "--module", "deals", "--record", "d1", "--trigger", "both"})
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidTrigger)
}

func TestCLI_UnmigratedDatabase(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RK_LOG_DIR", filepath.Join(dir, "logs"))
	rootCmd.SetArgs([]string{"rules", "list", "--db-url", "sqlite://" + filepath.Join(dir, "empty.db"), "--module", ""})
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run 'rulekeeper migrate' first")
}

func seedRecord(t *testing.T, url string, module types.Module, id types.RecordID, data map[string]any) {
	t.Helper()
	database, err := db.Open(url)
	require.NoError(t, err)
	defer database.Close()
	queries, err := db.LoadQueries(database)
	require.NoError(t, err)
	require.NoError(t, db.NewRecordStore(queries).PutRecord(context.Background(), module, id, data))
}
