// Package api provides the gRPC trigger service for the rule engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * RuleEngine trigger service.
 *
 * One unary method, rulekeeper.v1.RuleEngine/Run. The request and response
 * are google.protobuf.Struct so callers need no generated stubs:
 *
 *   request:  {"module": "deals", "trigger": "automatic", "record_id": "d1"}
 *   response: {"entries": [<execution log entry>...], "matched": 1}
 *
 * Entries use the same JSON shape as the execution log. Rule and action
 * failures are carried inside entries; only malformed requests and
 * cancelled calls produce gRPC errors.
 */

// Service and method names on the wire.
const (
	ServiceName = "rulekeeper.v1.RuleEngine"
	RunMethod   = "/" + ServiceName + "/Run"
)

// Runner executes the rules for one trigger event. Implemented by
// *engine.Engine.
type Runner interface {
	Run(ctx context.Context, module types.Module, trigger types.Trigger, recordID types.RecordID) []types.ExecutionLogEntry
}

// RuleEngineServer is the server API for the RuleEngine service.
type RuleEngineServer interface {
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RunRequest is the decoded form of a Run request.
type RunRequest struct {
	Module   types.Module
	Trigger  types.Trigger
	RecordID types.RecordID
}

// RuleEngineService implements RuleEngineServer over a Runner.
// Thin layer: request parsing, engine call, response encoding.
type RuleEngineService struct {
	runner Runner
	logger *slog.Logger
}

// NewRuleEngineService creates the service. A nil logger uses slog.Default().
func NewRuleEngineService(runner Runner, logger *slog.Logger) (*RuleEngineService, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngineService{runner: runner, logger: logger}, nil
}

// Run handles rulekeeper.v1.RuleEngine/Run.
func (s *RuleEngineService) Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, toStatus(err)
	}

	parsed, err := ParseRunRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}

	entries := s.runner.Run(ctx, parsed.Module, parsed.Trigger, parsed.RecordID)
	s.logger.Debug("trigger event handled",
		"module", parsed.Module,
		"trigger", parsed.Trigger,
		"record_id", parsed.RecordID,
		"entries", len(entries))

	resp, err := EncodeEntries(entries)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// ParseRunRequest validates a Run request. Trigger events are manual or
// automatic; "both" is only a rule setting.
func ParseRunRequest(req *structpb.Struct) (RunRequest, error) {
	fields := req.GetFields()
	str := func(key string) string {
		return strings.TrimSpace(fields[key].GetStringValue())
	}

	module, err := types.ParseModule(str("module"))
	if err != nil {
		return RunRequest{}, &requestError{err}
	}

	trigger := types.Trigger(str("trigger"))
	if trigger != types.TriggerManual && trigger != types.TriggerAutomatic {
		return RunRequest{}, &requestError{fmt.Errorf("%w: %q (expected manual or automatic)", types.ErrInvalidTrigger, trigger)}
	}

	recordID := str("record_id")
	if recordID == "" {
		return RunRequest{}, &requestError{fmt.Errorf("record_id is required")}
	}

	return RunRequest{Module: module, Trigger: trigger, RecordID: types.RecordID(recordID)}, nil
}

// NewRunRequest builds the wire form of a Run request.
func NewRunRequest(module types.Module, trigger types.Trigger, recordID types.RecordID) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"module":    string(module),
		"trigger":   string(trigger),
		"record_id": string(recordID),
	})
}

// EncodeEntries converts execution log entries into a Run response.
func EncodeEntries(entries []types.ExecutionLogEntry) (*structpb.Struct, error) {
	if entries == nil {
		entries = []types.ExecutionLogEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}

	matched := 0
	for _, e := range entries {
		if e.Matched {
			matched++
		}
	}

	return structpb.NewStruct(map[string]any{
		"entries": list,
		"matched": matched,
	})
}

// DecodeEntries converts a Run response back into execution log entries.
// Typed errors are not carried on the wire; Error and ErrorKind are.
func DecodeEntries(resp *structpb.Struct) ([]types.ExecutionLogEntry, error) {
	raw, err := json.Marshal(resp.GetFields()["entries"].GetListValue().AsSlice())
	if err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	entries := []types.ExecutionLogEntry{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return entries, nil
}

// RuleEngineServiceDesc describes the RuleEngine service for grpc.Server.
var RuleEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuleEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rulekeeper/v1/rule_engine.proto",
}

// RegisterRuleEngineServer registers srv on s.
func RegisterRuleEngineServer(s grpc.ServiceRegistrar, srv RuleEngineServer) {
	s.RegisterService(&RuleEngineServiceDesc, srv)
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RuleEngineServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RuleEngineServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RuleEngineClient calls the RuleEngine service.
type RuleEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewRuleEngineClient creates a client over cc.
func NewRuleEngineClient(cc grpc.ClientConnInterface) *RuleEngineClient {
	return &RuleEngineClient{cc: cc}
}

// Run sends one trigger event.
func (c *RuleEngineClient) Run(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, RunMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
