package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/rulekeeper/internal/actions"
	"github.com/solatis/rulekeeper/internal/types"
)

type staticMeta map[types.Module][]types.ModuleField

func (m staticMeta) GetFields(_ context.Context, module types.Module) ([]types.ModuleField, error) {
	fields, ok := m[module]
	if !ok {
		return nil, types.ErrUnknownModule
	}
	return fields, nil
}

var testMeta = staticMeta{
	types.ModuleDeals: {
		{Name: "priority", Type: types.FieldTypeEnum, Options: []string{"LOW", "MEDIUM", "HIGH"}},
		{Name: "status", Type: types.FieldTypeEnum},
		{Name: "score", Type: types.FieldTypeNumber},
		{Name: "clientName", Type: types.FieldTypeString},
		{Name: "tags", Type: types.FieldTypeString},
	},
}

type memRecords struct {
	mu   sync.Mutex
	data map[types.RecordID]map[string]any
}

func newMemRecords(id types.RecordID, record map[string]any) *memRecords {
	return &memRecords{data: map[types.RecordID]map[string]any{id: record}}
}

func (m *memRecords) GetRecord(_ context.Context, _ types.Module, id types.RecordID) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[id]
	if !ok {
		return nil, types.ErrRecordNotFound
	}
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out, nil
}

func (m *memRecords) AddTag(_ context.Context, _ types.Module, id types.RecordID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.data[id]
	if !ok {
		return types.ErrRecordNotFound
	}
	tags, _ := rec["tags"].([]any)
	rec["tags"] = append(append([]any{}, tags...), tag)
	return nil
}

func (m *memRecords) tags(id types.RecordID) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	tags, _ := m.data[id]["tags"].([]any)
	return tags
}

type notifier struct {
	mu     sync.Mutex
	sent   []actions.Notification
	err    error
	onCall func()
}

func (n *notifier) Notify(_ context.Context, notification actions.Notification) error {
	if n.onCall != nil {
		n.onCall()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)
	return nil
}

type ruleList struct {
	rules []types.Rule
	err   error
}

func (s *ruleList) ListEnabledRules(_ context.Context, _ types.Module, _ types.Trigger) ([]types.Rule, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]types.Rule(nil), s.rules...), nil
}

type memSink struct {
	mu      sync.Mutex
	entries []types.ExecutionLogEntry
	err     error
}

func (s *memSink) Append(_ context.Context, entry types.ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRule(name string, priority int, conds []types.Condition, acts ...types.Action) types.Rule {
	return types.Rule{
		ID:         types.NewRuleID(),
		Name:       name,
		Module:     types.ModuleDeals,
		Trigger:    types.TriggerBoth,
		Enabled:    true,
		Priority:   priority,
		Conditions: conds,
		Actions:    acts,
	}
}

func cond(field string, op types.Operator, value any, logical types.LogicalOperator) types.Condition {
	return types.Condition{Field: field, Operator: op, Value: value, LogicalOperator: logical}
}

func tagAction(tag string) types.Action {
	return types.Action{ID: "tag-" + tag, Type: types.ActionAddTag, Config: types.AddTagConfig{TagName: tag}}
}

func notifyAction(id, title string) types.Action {
	return types.Action{ID: id, Type: types.ActionSendNotification, Config: types.SendNotificationConfig{Title: title, Message: "Deal {{clientName}} needs attention"}}
}

type fixture struct {
	records *memRecords
	notes   *notifier
	sink    *memSink
	source  *ruleList
	cfg     Config
}

func newFixture(record map[string]any, rules ...types.Rule) *fixture {
	return &fixture{
		records: newMemRecords("d1", record),
		notes:   &notifier{},
		sink:    &memSink{},
		source:  &ruleList{rules: rules},
		cfg:     Config{Logger: quietLogger()},
	}
}

func (f *fixture) engine() *Engine {
	dispatcher := actions.NewDispatcher(actions.Handlers{
		Tags:          f.records,
		Notifications: f.notes,
	}, actions.Config{
		MaxAttempts:       1,
		RetryInitialDelay: time.Millisecond,
		ActionTimeout:     time.Second,
		Logger:            quietLogger(),
	})
	cfg := f.cfg
	cfg.Sink = f.sink
	return New(f.source, testMeta, f.records, dispatcher, cfg)
}

func (f *fixture) run(ctx context.Context) []types.ExecutionLogEntry {
	return f.engine().Run(ctx, types.ModuleDeals, types.TriggerAutomatic, "d1")
}

var (
	matchedStates   = []types.RunState{types.StateSelected, types.StateEvaluating, types.StateMatched, types.StateDispatching, types.StateCompleted}
	unmatchedStates = []types.RunState{types.StateSelected, types.StateEvaluating, types.StateUnmatched, types.StateCompleted}
)

func highPriorityRule() types.Rule {
	return newRule("Tag urgent deals", 1,
		[]types.Condition{cond("priority", types.OpEquals, "HIGH", "")},
		tagAction("urgent"))
}

func TestRun_MatchedRuleDispatchesActions(t *testing.T) {
	f := newFixture(map[string]any{"priority": "HIGH"}, highPriorityRule())

	entries := f.run(context.Background())

	require.Len(t, entries, 1)
	entry := entries[0]
	assert.True(t, entry.Matched)
	assert.NoError(t, entry.Err)
	assert.Equal(t, matchedStates, entry.States)
	require.Len(t, entry.ActionResults, 1)
	assert.Equal(t, types.ActionSuccess, entry.ActionResults[0].Status)
	assert.Equal(t, "urgent", entry.ActionResults[0].Output)
	assert.True(t, entry.Succeeded())
	assert.Equal(t, []any{"urgent"}, f.records.tags("d1"))

	assert.Equal(t, types.TriggerAutomatic, entry.Trigger)
	assert.Equal(t, types.RecordID("d1"), entry.RecordID)
	assert.False(t, entry.FinishedAt.Before(entry.StartedAt))
	require.Len(t, f.sink.entries, 1)
	assert.Equal(t, entry.ID, f.sink.entries[0].ID)
}

func TestRun_UnmatchedRuleHasNoActionResults(t *testing.T) {
	f := newFixture(map[string]any{"priority": "LOW"}, highPriorityRule())

	entries := f.run(context.Background())

	require.Len(t, entries, 1)
	assert.False(t, entries[0].Matched)
	assert.NoError(t, entries[0].Err)
	assert.Empty(t, entries[0].ActionResults)
	assert.NotNil(t, entries[0].ActionResults)
	assert.Equal(t, unmatchedStates, entries[0].States)
	assert.Empty(t, f.records.tags("d1"))
}

func TestRun_ConditionsFoldLeftToRight(t *testing.T) {
	r := newRule("Hot leads", 2, []types.Condition{
		cond("status", types.OpEquals, "NEW", ""),
		cond("score", types.OpGreaterThan, "80", types.LogicalOr),
	}, tagAction("hot"))
	f := newFixture(map[string]any{"status": "OLD", "score": 90}, r)

	entries := f.run(context.Background())

	require.Len(t, entries, 1)
	assert.True(t, entries[0].Matched)
}

func TestRun_ConfigurationErrorDoesNotStopRun(t *testing.T) {
	first := newRule("Notify owner", 1,
		[]types.Condition{cond("priority", types.OpEquals, "HIGH", "")},
		notifyAction("n1", ""), tagAction("seen"))
	second := newRule("Tag all", 2,
		[]types.Condition{cond("priority", types.OpIsNotEmpty, nil, "")},
		tagAction("reviewed"))
	f := newFixture(map[string]any{"priority": "HIGH", "clientName": "Acme"}, first, second)

	entries := f.run(context.Background())

	require.Len(t, entries, 2)
	results := entries[0].ActionResults
	require.Len(t, results, 2)
	assert.Equal(t, types.ActionFailed, results[0].Status)
	assert.ErrorIs(t, results[0].Err, types.ErrConfiguration)
	assert.Equal(t, types.ErrorKindConfiguration, results[0].ErrorKind)
	assert.Equal(t, types.ActionSuccess, results[1].Status)
	assert.False(t, entries[0].Succeeded())
	assert.Equal(t, types.StateCompleted, entries[0].FinalState())

	assert.True(t, entries[1].Matched)
	assert.Equal(t, types.ActionSuccess, entries[1].ActionResults[0].Status)
	assert.Empty(t, f.notes.sent)
}

func TestRun_FailingActionIsIsolated(t *testing.T) {
	first := newRule("Notify and tag", 1,
		[]types.Condition{cond("priority", types.OpEquals, "HIGH", "")},
		notifyAction("n1", "Urgent deal"), tagAction("urgent"))
	second := newRule("Follow up", 2,
		[]types.Condition{cond("priority", types.OpEquals, "HIGH", "")},
		tagAction("follow-up"))
	f := newFixture(map[string]any{"priority": "HIGH", "clientName": "Acme"}, first, second)
	f.notes.err = errors.New("smtp unavailable")

	entries := f.run(context.Background())

	require.Len(t, entries, 2)
	results := entries[0].ActionResults
	assert.Equal(t, types.ActionFailed, results[0].Status)
	assert.ErrorIs(t, results[0].Err, types.ErrActionExecution)
	assert.Equal(t, types.ActionSuccess, results[1].Status)
	assert.Equal(t, types.ActionSuccess, entries[1].ActionResults[0].Status)
	assert.ElementsMatch(t, []any{"urgent", "follow-up"}, f.records.tags("d1"))
}

func TestRun_RulesRunInPriorityOrder(t *testing.T) {
	always := []types.Condition{cond("priority", types.OpIsNotEmpty, nil, "")}
	low := newRule("low", 5, always)
	high := newRule("high", 1, always)
	midA := newRule("mid-a", 3, always)
	midB := newRule("mid-b", 3, always)
	f := newFixture(map[string]any{"priority": "LOW"}, low, midA, high, midB)

	entries := f.run(context.Background())

	var names []string
	for _, e := range entries {
		names = append(names, e.RuleName)
	}
	assert.Equal(t, []string{"high", "mid-a", "mid-b", "low"}, names)
}

func TestRun_LaterRuleSeesEarlierSideEffects(t *testing.T) {
	tagger := newRule("Tag urgent", 1,
		[]types.Condition{cond("priority", types.OpEquals, "HIGH", "")},
		tagAction("urgent"))
	escalate := newRule("Escalate urgent", 2,
		[]types.Condition{cond("tags", types.OpContains, "urgent", "")},
		tagAction("escalated"))
	f := newFixture(map[string]any{"priority": "HIGH"}, tagger, escalate)

	entries := f.run(context.Background())

	require.Len(t, entries, 2)
	assert.True(t, entries[0].Matched)
	assert.True(t, entries[1].Matched, "second rule must observe the tag added by the first")
	assert.Equal(t, []any{"urgent", "escalated"}, f.records.tags("d1"))
}

func TestRun_EvaluationErrorsAreRecorded(t *testing.T) {
	tests := []struct {
		name     string
		record   map[string]any
		cond     types.Condition
		wantErr  error
		wantKind types.ErrorKind
	}{
		{
			name:     "unknown field",
			record:   map[string]any{"priority": "HIGH"},
			cond:     cond("nonexistent", types.OpEquals, "x", ""),
			wantErr:  types.ErrUnknownField,
			wantKind: types.ErrorKindUnknownField,
		},
		{
			name:     "ordering on string field",
			record:   map[string]any{"clientName": "Acme"},
			cond:     cond("clientName", types.OpGreaterThan, 3, ""),
			wantErr:  types.ErrTypeMismatch,
			wantKind: types.ErrorKindTypeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broken := newRule("Broken", 1, []types.Condition{tt.cond}, tagAction("never"))
			next := newRule("Next", 2, []types.Condition{cond("priority", types.OpIsEmpty, nil, types.LogicalOr)}, tagAction("next"))
			f := newFixture(tt.record, broken, next)

			entries := f.run(context.Background())

			require.Len(t, entries, 2)
			assert.False(t, entries[0].Matched)
			assert.ErrorIs(t, entries[0].Err, tt.wantErr)
			assert.Equal(t, tt.wantKind, entries[0].ErrorKind)
			assert.NotEmpty(t, entries[0].Error)
			assert.Equal(t, unmatchedStates, entries[0].States)
			assert.Empty(t, entries[0].ActionResults)
			assert.NotContains(t, f.records.tags("d1"), "never")
		})
	}
}

func TestRun_MissingRecordMarksRulesUnmatched(t *testing.T) {
	f := newFixture(map[string]any{}, highPriorityRule())

	entries := f.engine().Run(context.Background(), types.ModuleDeals, types.TriggerManual, "missing")

	require.Len(t, entries, 1)
	assert.False(t, entries[0].Matched)
	assert.ErrorIs(t, entries[0].Err, types.ErrRecordNotFound)
}

func TestRun_CoercionFailureIsWarningUnlessRead(t *testing.T) {
	f := newFixture(map[string]any{"priority": "HIGH", "score": "not a number"}, highPriorityRule())

	entries := f.run(context.Background())

	require.Len(t, entries, 1)
	assert.True(t, entries[0].Matched)
	require.Len(t, entries[0].Warnings, 1)
	assert.Contains(t, entries[0].Warnings[0], "score")
}

func TestRun_CancellationStopsFurtherRules(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := newRule("Notify then tag", 1,
		[]types.Condition{cond("priority", types.OpEquals, "HIGH", "")},
		notifyAction("n1", "Record deleted"), tagAction("late"))
	second := newRule("Never evaluated", 2,
		[]types.Condition{cond("priority", types.OpEquals, "HIGH", "")},
		tagAction("second"))
	f := newFixture(map[string]any{"priority": "HIGH", "clientName": "Acme"}, first, second)
	f.cfg.SequentialActions = true
	f.notes.onCall = cancel

	entries := f.run(ctx)

	require.Len(t, entries, 1)
	results := entries[0].ActionResults
	require.Len(t, results, 2)
	assert.Equal(t, types.ActionSuccess, results[0].Status, "in-flight action finishes")
	assert.Equal(t, types.ActionSkipped, results[1].Status)
	assert.Equal(t, skippedCancelled, results[1].Error)
	assert.Empty(t, f.records.tags("d1"))
	require.Len(t, f.sink.entries, 1, "entry is persisted despite cancellation")
}

func TestRun_CancelledBeforeStartEvaluatesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(map[string]any{"priority": "HIGH"}, highPriorityRule())

	entries := f.run(ctx)

	assert.NotNil(t, entries)
	assert.Empty(t, entries)
	assert.Empty(t, f.sink.entries)
}

func TestRun_RejectedInputsYieldNoEntries(t *testing.T) {
	tests := []struct {
		name    string
		module  types.Module
		trigger types.Trigger
		source  *ruleList
	}{
		{name: "unknown module", module: "invoices", trigger: types.TriggerManual},
		{name: "both is not an event", module: types.ModuleDeals, trigger: types.TriggerBoth},
		{name: "selection failure", module: types.ModuleDeals, trigger: types.TriggerManual, source: &ruleList{err: errors.New("db down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(map[string]any{"priority": "HIGH"}, highPriorityRule())
			if tt.source != nil {
				f.source = tt.source
			}

			entries := f.engine().Run(context.Background(), tt.module, tt.trigger, "d1")

			assert.NotNil(t, entries)
			assert.Empty(t, entries)
		})
	}
}

func TestRun_SelectionFiltersRules(t *testing.T) {
	disabled := highPriorityRule()
	disabled.Enabled = false
	manualOnly := highPriorityRule()
	manualOnly.Trigger = types.TriggerManual
	otherModule := highPriorityRule()
	otherModule.Module = types.ModuleTasks
	f := newFixture(map[string]any{"priority": "HIGH"}, disabled, manualOnly, otherModule)

	entries := f.run(context.Background())

	assert.Empty(t, entries)
}

func TestRun_SinkFailureDoesNotSurface(t *testing.T) {
	f := newFixture(map[string]any{"priority": "HIGH"}, highPriorityRule())
	f.sink.err = errors.New("disk full")

	entries := f.run(context.Background())

	require.Len(t, entries, 1)
	assert.True(t, entries[0].Matched)
}

func TestRun_ConcurrentActionsKeepDeclaredOrder(t *testing.T) {
	r := newRule("Many tags", 1,
		[]types.Condition{cond("priority", types.OpEquals, "HIGH", "")},
		tagAction("a"), tagAction("b"), tagAction("c"), tagAction("d"))
	f := newFixture(map[string]any{"priority": "HIGH"}, r)

	entries := f.run(context.Background())

	require.Len(t, entries, 1)
	var ids []string
	for _, res := range entries[0].ActionResults {
		ids = append(ids, res.ActionID)
		assert.Equal(t, types.ActionSuccess, res.Status)
	}
	assert.Equal(t, []string{"tag-a", "tag-b", "tag-c", "tag-d"}, ids)
	assert.ElementsMatch(t, []any{"a", "b", "c", "d"}, f.records.tags("d1"))
}

func TestMetrics_RecordRunOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	broken := newRule("Broken", 2, []types.Condition{cond("nonexistent", types.OpEquals, "x", "")})
	f := newFixture(map[string]any{"priority": "HIGH"}, highPriorityRule(), broken)
	f.cfg.Metrics = m

	f.run(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ruleEvaluations.WithLabelValues("deals", resultMatched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ruleEvaluations.WithLabelValues("deals", resultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("add-tag", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.runDuration))
}

func TestNewMetrics_NilRegistryDisablesMetrics(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	assert.NotPanics(t, func() {
		m.recordEntry(&types.ExecutionLogEntry{Matched: true})
		m.recordRun(time.Second)
	})
}

func TestNewMetrics_DuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestRun_CorruptRuleDoesNotBlockSiblings(t *testing.T) {
	corrupt := newRule("Broken rule", 1, nil, tagAction("never"))
	corrupt.LoadErr = fmt.Errorf("%w: conditions of rule %s: bad json", types.ErrCorruptRule, corrupt.ID)
	f := newFixture(map[string]any{"priority": "HIGH"}, corrupt, highPriorityRule())

	entries := f.run(context.Background())

	require.Len(t, entries, 2)
	assert.False(t, entries[0].Matched)
	assert.Equal(t, unmatchedStates, entries[0].States)
	assert.Equal(t, types.ErrorKindCorruptRule, entries[0].ErrorKind)
	assert.Empty(t, entries[0].ActionResults)
	assert.True(t, entries[1].Succeeded(), "%+v", entries[1])
	assert.Equal(t, []any{"urgent"}, f.records.tags("d1"))
}
