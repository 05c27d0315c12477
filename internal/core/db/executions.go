package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solatis/rulekeeper/internal/types"
)

// executionRow is the execution_log table shape. Summary columns are
// queryable; detail holds the full entry as JSON.
type executionRow struct {
	ID         string    `db:"execution_id"`
	RuleID     string    `db:"rule_id"`
	RuleName   string    `db:"rule_name"`
	Module     string    `db:"module"`
	Trigger    string    `db:"trigger_mode"`
	RecordID   string    `db:"record_id"`
	Matched    bool      `db:"matched"`
	FinalState string    `db:"final_state"`
	Error      string    `db:"error"`
	ErrorKind  string    `db:"error_kind"`
	Detail     string    `db:"detail"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
}

// ExecutionLog is the SQL execution log sink.
type ExecutionLog struct {
	q *Queries
}

// NewExecutionLog creates an execution log over q.
func NewExecutionLog(q *Queries) *ExecutionLog {
	return &ExecutionLog{q: q}
}

// Append stores entry. Entries are never updated.
func (l *ExecutionLog) Append(ctx context.Context, entry types.ExecutionLogEntry) error {
	detail, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", entry.ID, err)
	}

	_, err = l.q.Exec(ctx, "insert-execution",
		entry.ID, entry.RuleID, entry.RuleName, entry.Module, entry.Trigger, entry.RecordID,
		entry.Matched, entry.FinalState(), entry.Error, entry.ErrorKind, string(detail),
		entry.StartedAt.UTC(), entry.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", entry.ID, err)
	}
	return nil
}

// ListExecutions returns a rule's execution history, newest first.
// A limit <= 0 defaults to 50.
func (l *ExecutionLog) ListExecutions(ctx context.Context, ruleID types.RuleID, limit, offset int) ([]types.ExecutionLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rows []executionRow
	if err := l.q.Select(ctx, "list-executions-by-rule", &rows, ruleID, limit, offset); err != nil {
		return nil, fmt.Errorf("list executions of rule %s: %w", ruleID, err)
	}

	out := make([]types.ExecutionLogEntry, 0, len(rows))
	for _, row := range rows {
		var entry types.ExecutionLogEntry
		if err := json.Unmarshal([]byte(row.Detail), &entry); err != nil {
			return nil, fmt.Errorf("decode execution %s: %w", row.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// CountExecutions returns the number of stored executions for a rule.
func (l *ExecutionLog) CountExecutions(ctx context.Context, ruleID types.RuleID) (int, error) {
	var n int
	if err := l.q.Get(ctx, "count-executions-by-rule", &n, ruleID); err != nil {
		return 0, fmt.Errorf("count executions of rule %s: %w", ruleID, err)
	}
	return n, nil
}
