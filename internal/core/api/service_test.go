package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rulekeeper/internal/types"
)

type fakeRunner struct {
	calls   []RunRequest
	entries []types.ExecutionLogEntry
}

func (f *fakeRunner) Run(_ context.Context, module types.Module, trigger types.Trigger, recordID types.RecordID) []types.ExecutionLogEntry {
	f.calls = append(f.calls, RunRequest{Module: module, Trigger: trigger, RecordID: recordID})
	return f.entries
}

func sampleEntries() []types.ExecutionLogEntry {
	started := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	matched := types.ExecutionLogEntry{
		ID:       types.NewExecutionID(),
		RuleID:   "r1",
		RuleName: "Escalate",
		Module:   types.ModuleDeals,
		Trigger:  types.TriggerAutomatic,
		RecordID: "d1",
		Matched:  true,
		States: []types.RunState{
			types.StateSelected, types.StateEvaluating, types.StateMatched,
			types.StateDispatching, types.StateCompleted,
		},
		ActionResults: []types.ActionResult{
			{ActionID: "a1", ActionType: types.ActionAddTag, Status: types.ActionSuccess, Attempts: 1},
			{ActionID: "a2", ActionType: types.ActionCustomWebhook, Status: types.ActionFailed,
				Error: "custom-webhook: timed out after 10s", ErrorKind: types.ErrorKindTimeout, Attempts: 2},
		},
		StartedAt:  started,
		FinishedAt: started.Add(20 * time.Millisecond),
	}
	unmatched := types.ExecutionLogEntry{
		ID:         types.NewExecutionID(),
		RuleID:     "r2",
		RuleName:   "Nudge",
		Module:     types.ModuleDeals,
		Trigger:    types.TriggerAutomatic,
		RecordID:   "d1",
		States:     []types.RunState{types.StateSelected, types.StateEvaluating, types.StateUnmatched, types.StateCompleted},
		Error:      `unknown field "budget" in module deals`,
		ErrorKind:  types.ErrorKindUnknownField,
		StartedAt:  started,
		FinishedAt: started.Add(time.Millisecond),
	}
	return []types.ExecutionLogEntry{matched, unmatched}
}

func TestParseRunRequest(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]any
		want    RunRequest
		wantErr bool
	}{
		{
			name:   "valid",
			fields: map[string]any{"module": "deals", "trigger": "manual", "record_id": " d1 "},
			want:   RunRequest{Module: types.ModuleDeals, Trigger: types.TriggerManual, RecordID: "d1"},
		},
		{name: "unknown module", fields: map[string]any{"module": "invoices", "trigger": "manual", "record_id": "1"}, wantErr: true},
		{name: "both is not an event", fields: map[string]any{"module": "deals", "trigger": "both", "record_id": "1"}, wantErr: true},
		{name: "missing trigger", fields: map[string]any{"module": "deals", "record_id": "1"}, wantErr: true},
		{name: "missing record", fields: map[string]any{"module": "deals", "trigger": "automatic"}, wantErr: true},
		{name: "non-string module", fields: map[string]any{"module": 3, "trigger": "automatic", "record_id": "1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := structpb.NewStruct(tt.fields)
			require.NoError(t, err)

			got, err := ParseRunRequest(req)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, codes.InvalidArgument, status.Code(toStatus(err)))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDecodeEntries(t *testing.T) {
	entries := sampleEntries()

	resp, err := EncodeEntries(entries)
	require.NoError(t, err)
	assert.Equal(t, float64(1), resp.GetFields()["matched"].GetNumberValue())

	got, err := DecodeEntries(resp)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entries[0].ID, got[0].ID)
	assert.Equal(t, entries[0].States, got[0].States)
	assert.Equal(t, types.ErrorKindTimeout, got[0].ActionResults[1].ErrorKind)
	assert.Equal(t, 2, got[0].ActionResults[1].Attempts)
	assert.Equal(t, types.ErrorKindUnknownField, got[1].ErrorKind)
	assert.True(t, entries[0].StartedAt.Equal(got[0].StartedAt))

	empty, err := EncodeEntries(nil)
	require.NoError(t, err)
	decoded, err := DecodeEntries(empty)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestNewRuleEngineService_NilRunner(t *testing.T) {
	_, err := NewRuleEngineService(nil, nil)
	assert.Error(t, err)
}

func TestToStatus(t *testing.T) {
	assert.NoError(t, toStatus(nil))
	assert.Equal(t, codes.Canceled, status.Code(toStatus(context.Canceled)))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(toStatus(context.DeadlineExceeded)))
	assert.Equal(t, codes.Internal, status.Code(toStatus(assert.AnError)))

	existing := status.Error(codes.Unavailable, "down")
	assert.Equal(t, existing, toStatus(existing))
}

// dialService serves svc over an in-memory listener and returns a client.
func dialService(t *testing.T, svc RuleEngineServer) *RuleEngineClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterRuleEngineServer(srv, svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewRuleEngineClient(conn)
}

func TestRuleEngineService_RunOverGRPC(t *testing.T) {
	runner := &fakeRunner{entries: sampleEntries()}
	svc, err := NewRuleEngineService(runner, nil)
	require.NoError(t, err)
	client := dialService(t, svc)

	req, err := NewRunRequest(types.ModuleDeals, types.TriggerAutomatic, "d1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Run(ctx, req)
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, RunRequest{Module: types.ModuleDeals, Trigger: types.TriggerAutomatic, RecordID: "d1"}, runner.calls[0])

	entries, err := DecodeEntries(resp)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.RuleID("r1"), entries[0].RuleID)
	assert.True(t, entries[0].Matched)
}

func TestRuleEngineService_RejectsBadRequestOverGRPC(t *testing.T) {
	runner := &fakeRunner{}
	svc, err := NewRuleEngineService(runner, nil)
	require.NoError(t, err)
	client := dialService(t, svc)

	req, err := NewRunRequest(types.ModuleDeals, types.TriggerBoth, "d1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.Run(ctx, req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Empty(t, runner.calls)
}

func TestRuleEngineService_CancelledContext(t *testing.T) {
	runner := &fakeRunner{}
	svc, err := NewRuleEngineService(runner, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := NewRunRequest(types.ModuleDeals, types.TriggerManual, "d1")
	require.NoError(t, err)

	_, err = svc.Run(ctx, req)
	assert.Equal(t, codes.Canceled, status.Code(err))
	assert.Empty(t, runner.calls)
}
