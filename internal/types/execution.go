package types

import "time"

// ActionStatus is the outcome of one action dispatch.
type ActionStatus string

const (
	ActionSuccess ActionStatus = "success"
	ActionFailed  ActionStatus = "failed"
	ActionSkipped ActionStatus = "skipped"
)

// RunState is a rule's position in the evaluation state machine:
// SELECTED -> EVALUATING -> {MATCHED -> DISPATCHING -> COMPLETED, UNMATCHED -> COMPLETED}.
type RunState string

const (
	StateSelected    RunState = "SELECTED"
	StateEvaluating  RunState = "EVALUATING"
	StateMatched     RunState = "MATCHED"
	StateUnmatched   RunState = "UNMATCHED"
	StateDispatching RunState = "DISPATCHING"
	StateCompleted   RunState = "COMPLETED"
)

// ActionResult records one action's dispatch outcome. Err keeps the typed
// error for in-process callers; Error and ErrorKind are its persisted form.
type ActionResult struct {
	ActionID   string       `json:"actionId"`
	ActionType ActionType   `json:"type"`
	Status     ActionStatus `json:"status"`
	Err        error        `json:"-"`
	Error      string       `json:"error,omitempty"`
	ErrorKind  ErrorKind    `json:"errorKind,omitempty"`
	Output     string       `json:"output,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
	Attempts   int          `json:"attempts"`
	DurationMs int64        `json:"durationMs"`
}

// ExecutionLogEntry is the append-only record of one rule's evaluation for one
// triggering record. Failures are carried as data, never as returned errors.
type ExecutionLogEntry struct {
	ID            ExecutionID    `json:"id"`
	RuleID        RuleID         `json:"ruleId"`
	RuleName      string         `json:"ruleName"`
	Module        Module         `json:"module"`
	Trigger       Trigger        `json:"trigger"`
	RecordID      RecordID       `json:"recordId"`
	Matched       bool           `json:"matched"`
	States        []RunState     `json:"states"`
	Err           error          `json:"-"`
	Error         string         `json:"error,omitempty"`
	ErrorKind     ErrorKind      `json:"errorKind,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	ActionResults []ActionResult `json:"actionResults"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
}

// SetError attaches err to the entry in both typed and persisted form.
func (e *ExecutionLogEntry) SetError(err error) {
	e.Err = err
	if err == nil {
		e.Error, e.ErrorKind = "", ErrorKindNone
		return
	}
	e.Error = err.Error()
	e.ErrorKind = KindOf(err)
}

// FinalState returns the last state the rule reached.
func (e *ExecutionLogEntry) FinalState() RunState {
	if len(e.States) == 0 {
		return ""
	}
	return e.States[len(e.States)-1]
}

// Succeeded reports whether the rule matched and every action succeeded.
func (e *ExecutionLogEntry) Succeeded() bool {
	if !e.Matched || e.Err != nil {
		return false
	}
	for _, r := range e.ActionResults {
		if r.Status != ActionSuccess {
			return false
		}
	}
	return true
}
