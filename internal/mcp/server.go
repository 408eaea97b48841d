// Package mcp exposes signal intake, lineage, gate decisions and AI cache
// stats as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"signalflow/backend/internal/ai"
	"signalflow/backend/internal/auth"
	"signalflow/backend/internal/services"
	"signalflow/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	signals   *services.SignalService
	lineage   *services.LineageService
	gates     *services.GateService
	ai        *ai.Executor
}

func NewServer(signals *services.SignalService, lineage *services.LineageService, gates *services.GateService, executor *ai.Executor) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"signalflow",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		signals: signals,
		lineage: lineage,
		gates:   gates,
		ai:      executor,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"ingest_signal",
			mcp.WithDescription("Ingest an external signal for the caller's tenant and trigger matching routes"),
			mcp.WithString("source", mcp.Required(), mcp.Description("Signal source: crm, analytics, manual, webhook or webhook:<name>")),
			mcp.WithString("payload", mcp.Required(), mcp.Description("The raw signal payload as a JSON object")),
			mcp.WithString("client_id", mcp.Description("Optional client the signal concerns")),
		),
		s.handleIngestSignal,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_execution_lineage",
			mcp.WithDescription("Return the signal, events, created entities and AI executions of a workflow execution"),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The workflow execution ID")),
		),
		s.handleGetLineage,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"record_gate_decision",
			mcp.WithDescription("Record an approve, reject or discuss decision on a gated artifact"),
			mcp.WithString("gate_type", mcp.Required(), mcp.Description("The gate being decided")),
			mcp.WithString("decision", mcp.Required(), mcp.Enum("approve", "reject", "discuss")),
			mcp.WithString("target_type", mcp.Required(), mcp.Enum(targetTypeNames()...)),
			mcp.WithString("target_id", mcp.Required(), mcp.Description("The ID of the artifact")),
			mcp.WithString("rationale", mcp.Required(), mcp.Description("Why the decision was made")),
		),
		s.handleRecordGateDecision,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"ai_cache_stats",
			mcp.WithDescription("Report the size and keys of the AI response cache (super-operators only)"),
		),
		s.handleAICacheStats,
	)
}

func targetTypeNames() []string {
	out := make([]string, len(models.TargetTypes))
	for i, tt := range models.TargetTypes {
		out[i] = string(tt)
	}
	return out
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, *mcp.CallToolResult) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, mcp.NewToolResultError("Invalid arguments type")
	}
	return args, nil
}

func stringArg(args map[string]interface{}, name string) string {
	v, _ := args[name].(string)
	return v
}

func (s *Server) handleIngestSignal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Unauthenticated"), nil
	}
	args, bad := arguments(request)
	if bad != nil {
		return bad, nil
	}

	source := stringArg(args, "source")
	if source == "" {
		return mcp.NewToolResultError("Missing required parameter: source"), nil
	}
	var payload json.RawMessage
	switch p := args["payload"].(type) {
	case string:
		payload = json.RawMessage(p)
	case map[string]interface{}:
		raw, err := json.Marshal(p)
		if err != nil {
			return mcp.NewToolResultError("Invalid payload"), nil
		}
		payload = raw
	default:
		return mcp.NewToolResultError("Missing required parameter: payload"), nil
	}
	var clientID *string
	if id := stringArg(args, "client_id"); id != "" {
		clientID = &id
	}

	res, err := s.signals.Ingest(ctx, caller.TenantID, source, payload, clientID)
	if err != nil && !(errors.Is(err, services.ErrEngine) && res != nil) {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to ingest signal: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handleGetLineage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Unauthenticated"), nil
	}
	args, bad := arguments(request)
	if bad != nil {
		return bad, nil
	}
	id := stringArg(args, "execution_id")
	if id == "" {
		return mcp.NewToolResultError("Missing required parameter: execution_id"), nil
	}

	lineage, err := s.lineage.GetLineage(ctx, caller, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load lineage: %v", err)), nil
	}
	return jsonResult(lineage)
}

func (s *Server) handleRecordGateDecision(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Unauthenticated"), nil
	}
	args, bad := arguments(request)
	if bad != nil {
		return bad, nil
	}

	result, err := s.gates.RecordDecision(ctx, caller, models.GateDecisionInput{
		GateType:   stringArg(args, "gate_type"),
		Decision:   models.Decision(stringArg(args, "decision")),
		TargetType: models.TargetType(stringArg(args, "target_type")),
		TargetID:   stringArg(args, "target_id"),
		Rationale:  stringArg(args, "rationale"),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record decision: %v", err)), nil
	}
	if !result.OK {
		out, _ := json.Marshal(result)
		return mcp.NewToolResultError(string(out)), nil
	}
	return jsonResult(result.Decision)
}

func (s *Server) handleAICacheStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caller, ok := auth.CallerFromContext(ctx)
	if !ok || !caller.SuperOperator {
		return mcp.NewToolResultError("forbidden"), nil
	}
	stats, err := s.ai.CacheStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read cache stats: %v", err)), nil
	}
	return jsonResult(stats)
}

// MountHTTPHandlers serves the SSE transport under /mcp. The caller resolved
// by the auth middleware on the HTTP request is carried into tool calls.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if caller, ok := auth.CallerFromContext(r.Context()); ok {
				return auth.WithCaller(ctx, caller)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
