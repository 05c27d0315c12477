// internal/engine/engine.go

// Package engine runs the rules selected for one trigger event against the
// triggering record and reports one execution log entry per rule.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solatis/rulekeeper/internal/actions"
	"github.com/solatis/rulekeeper/internal/rules"
	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Execution engine.
 *
 * Run flow for one trigger event (module, trigger, record):
 *   1. Select enabled rules for the module accepting the trigger, ordered by
 *      priority
 *   2. For each rule, sequentially:
 *        SELECTED -> EVALUATING: load the record and resolve fields fresh,
 *          so side effects of earlier rules in the same run are visible
 *        evaluate conditions -> MATCHED or UNMATCHED
 *        MATCHED -> DISPATCHING: run all actions, concurrently unless
 *          configured otherwise, and wait for every result
 *        -> COMPLETED
 *   3. Append each entry to the log sink as soon as its rule completes
 *
 * Failures are data. Selection failure yields an empty result; record, metadata
 * and condition failures mark the rule unmatched with the error attached;
 * action failures become failed results. Run never returns an error.
 *
 * Cancellation stops the run between rules. Actions already dispatched run to
 * completion under a detached context; actions not yet started are recorded
 * as skipped.
 */

// RecordStore loads raw records for field resolution.
type RecordStore interface {
	GetRecord(ctx context.Context, module types.Module, id types.RecordID) (map[string]any, error)
}

// LogSink persists execution log entries. Append-only.
type LogSink interface {
	Append(ctx context.Context, entry types.ExecutionLogEntry) error
}

// ActionDispatcher executes one action. Implemented by *actions.Dispatcher.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, target actions.Target, action types.Action, fields types.FieldMap) types.ActionResult
}

// Config tunes the engine.
type Config struct {
	// SequentialActions dispatches a matched rule's actions one at a time in
	// declared order instead of concurrently.
	SequentialActions bool
	Sink              LogSink // optional
	Metrics           *Metrics
	Logger            *slog.Logger
}

// Engine orchestrates rule selection, evaluation and action dispatch.
// Safe for concurrent use by independent trigger events.
type Engine struct {
	selector   *rules.Selector
	resolver   *rules.Resolver
	records    RecordStore
	dispatcher ActionDispatcher
	sink       LogSink
	sequential bool
	metrics    *Metrics
	logger     *slog.Logger
}

// New creates an engine from its collaborators.
func New(source rules.RuleSource, meta rules.MetadataProvider, records RecordStore, dispatcher ActionDispatcher, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		selector:   rules.NewSelector(source),
		resolver:   rules.NewResolver(meta),
		records:    records,
		dispatcher: dispatcher,
		sink:       cfg.Sink,
		sequential: cfg.SequentialActions,
		metrics:    cfg.Metrics,
		logger:     logger,
	}
}

// skippedCancelled is the reason recorded for actions never started because
// the trigger event was cancelled.
const skippedCancelled = "trigger event cancelled"

// Run evaluates every selected rule for the record and returns one entry per
// evaluated rule, in execution order. The slice is never nil.
func (e *Engine) Run(ctx context.Context, module types.Module, trigger types.Trigger, recordID types.RecordID) []types.ExecutionLogEntry {
	start := time.Now()
	defer func() { e.metrics.recordRun(time.Since(start)) }()

	entries := []types.ExecutionLogEntry{}

	if !module.Valid() {
		e.logger.Error("run rejected", "module", module, "record_id", recordID, "error", types.ErrUnknownModule)
		return entries
	}
	if trigger != types.TriggerManual && trigger != types.TriggerAutomatic {
		e.logger.Error("run rejected", "module", module, "record_id", recordID,
			"error", fmt.Errorf("%w: trigger event must be manual or automatic, got %q", types.ErrInvalidTrigger, trigger))
		return entries
	}

	selected, err := e.selector.Select(ctx, module, trigger)
	if err != nil {
		e.logger.Error("rule selection failed", "module", module, "trigger", trigger, "record_id", recordID, "error", err)
		return entries
	}

	for i, rule := range selected {
		if err := ctx.Err(); err != nil {
			e.logger.Info("trigger event cancelled",
				"module", module,
				"record_id", recordID,
				"remaining_rules", len(selected)-i,
				"error", err)
			break
		}
		entry := e.runRule(ctx, rule, trigger, recordID)
		e.finish(ctx, &entry)
		entries = append(entries, entry)
	}
	return entries
}

func (e *Engine) runRule(ctx context.Context, rule types.Rule, trigger types.Trigger, recordID types.RecordID) types.ExecutionLogEntry {
	entry := types.ExecutionLogEntry{
		ID:            types.NewExecutionID(),
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		Module:        rule.Module,
		Trigger:       trigger,
		RecordID:      recordID,
		States:        []types.RunState{types.StateSelected, types.StateEvaluating},
		ActionResults: []types.ActionResult{},
		StartedAt:     time.Now().UTC(),
	}

	if rule.LoadErr != nil {
		entry.SetError(rule.LoadErr)
		entry.States = append(entry.States, types.StateUnmatched, types.StateCompleted)
		return entry
	}

	res, err := e.resolve(ctx, rule.Module, recordID)
	matched := false
	if err == nil {
		entry.Warnings = coercionWarnings(res)
		matched, err = rules.Evaluate(rule.Conditions, res)
	}
	if err != nil {
		entry.SetError(err)
	}

	if !matched {
		entry.States = append(entry.States, types.StateUnmatched, types.StateCompleted)
		return entry
	}

	entry.Matched = true
	entry.States = append(entry.States, types.StateMatched, types.StateDispatching)
	entry.ActionResults = e.dispatch(ctx, rule, recordID, res.Fields)
	entry.States = append(entry.States, types.StateCompleted)
	return entry
}

func (e *Engine) resolve(ctx context.Context, module types.Module, recordID types.RecordID) (*rules.Resolution, error) {
	record, err := e.records.GetRecord(ctx, module, recordID)
	if err != nil {
		return nil, fmt.Errorf("load record %s/%s: %w", module, recordID, err)
	}
	return e.resolver.Resolve(ctx, module, record)
}

// dispatch runs every action of a matched rule and blocks until all results
// are in. Results keep the rule's declared action order.
func (e *Engine) dispatch(ctx context.Context, rule types.Rule, recordID types.RecordID, fields types.FieldMap) []types.ActionResult {
	target := actions.Target{Module: rule.Module, RecordID: recordID, RuleID: rule.ID, RuleName: rule.Name}
	results := make([]types.ActionResult, len(rule.Actions))
	detached := context.WithoutCancel(ctx)

	run := func(i int) {
		action := rule.Actions[i]
		if ctx.Err() != nil {
			results[i] = actions.Skipped(action, skippedCancelled)
			return
		}
		results[i] = e.dispatcher.Dispatch(detached, target, action, fields)
	}

	if e.sequential {
		for i := range rule.Actions {
			run(i)
		}
		return results
	}

	var g errgroup.Group
	for i := range rule.Actions {
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// finish stamps, persists, records and logs a completed entry.
func (e *Engine) finish(ctx context.Context, entry *types.ExecutionLogEntry) {
	entry.FinishedAt = time.Now().UTC()

	if e.sink != nil {
		if err := e.sink.Append(context.WithoutCancel(ctx), *entry); err != nil {
			e.logger.Error("append execution log failed",
				"execution_id", entry.ID,
				"rule_id", entry.RuleID,
				"error", err)
		}
	}
	e.metrics.recordEntry(entry)

	failed := 0
	for _, r := range entry.ActionResults {
		if r.Status == types.ActionFailed {
			failed++
		}
	}
	attrs := []any{
		"rule_id", entry.RuleID,
		"rule", entry.RuleName,
		"module", entry.Module,
		"record_id", entry.RecordID,
		"matched", entry.Matched,
		"state", entry.FinalState(),
		"actions", len(entry.ActionResults),
		"failed_actions", failed,
		"duration_ms", entry.FinishedAt.Sub(entry.StartedAt).Milliseconds(),
	}
	if entry.Err != nil {
		attrs = append(attrs, "error", entry.Err)
	}
	e.logger.Info("rule evaluated", attrs...)
}

// coercionWarnings reports fields that failed to coerce. They only fail the
// rule if a condition reads them, so they are otherwise kept as warnings.
func coercionWarnings(res *rules.Resolution) []string {
	errs := res.Errors()
	if len(errs) == 0 {
		return nil
	}
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, errs[name].Error())
	}
	return out
}
