package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/domain/escalation"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.submitDecisionTool(),
		s.resolveDecisionTool(),
		s.decisionHistoryTool(),
		s.analyzeProvenanceTool(),
	)
}

func (s *Server) submitDecisionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_decision",
		mcplib.WithDescription("Submit a decision request for multi-model review and return the committed outcome"),
		mcplib.WithString("id",
			mcplib.Description("Caller-chosen request id; generated when omitted"),
		),
		mcplib.WithString("title",
			mcplib.Description("Short human-readable summary"),
		),
		mcplib.WithNumber("risk_score",
			mcplib.Required(),
			mcplib.Description("Caller-assessed risk in [0,100]"),
		),
		mcplib.WithArray("required_roles",
			mcplib.Required(),
			mcplib.Description("Advisory roles to consult, e.g. analysis, safety, pricing"),
			mcplib.WithStringItems(),
		),
		mcplib.WithString("context",
			mcplib.Description("JSON document with the facts under review"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSubmitDecision}
}

func (s *Server) resolveDecisionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("resolve_decision",
		mcplib.WithDescription("Approve or reject a decision that is awaiting a human"),
		mcplib.WithString("request_id",
			mcplib.Required(),
			mcplib.Description("The decision to resolve"),
		),
		mcplib.WithString("decision",
			mcplib.Required(),
			mcplib.Enum(string(escalation.ActionApprove), string(escalation.ActionReject)),
		),
		mcplib.WithString("comment",
			mcplib.Description("Reviewer note stored in the audit log"),
		),
		mcplib.WithString("actor",
			mcplib.Description("Who is resolving; defaults to mcp"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleResolveDecision}
}

func (s *Server) decisionHistoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("decision_history",
		mcplib.WithDescription("Return every provenance record for a decision"),
		mcplib.WithString("request_id",
			mcplib.Required(),
			mcplib.Description("The decision to look up"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleDecisionHistory}
}

func (s *Server) analyzeProvenanceTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("analyze_provenance",
		mcplib.WithDescription("Aggregate outcome, escalation and provider statistics over recent days"),
		mcplib.WithNumber("days",
			mcplib.Description("Window in days (default 7)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleAnalyzeProvenance}
}

func (s *Server) handleSubmitDecision(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return mcplib.NewToolResultError("decision service not configured"), nil
	}
	dreq := decision.Request{
		ID:        req.GetString("id", ""),
		Title:     req.GetString("title", ""),
		RiskScore: req.GetFloat("risk_score", -1),
	}
	for _, r := range req.GetStringSlice("required_roles", nil) {
		dreq.RequiredRoles = append(dreq.RequiredRoles, decision.Role(r))
	}
	if raw := req.GetString("context", ""); raw != "" {
		if !json.Valid([]byte(raw)) {
			return mcplib.NewToolResultError("context must be a JSON document"), nil
		}
		dreq.Context = json.RawMessage(raw)
	}

	out, err := s.deps.Decisions.Submit(ctx, dreq)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("submit failed", err), nil
	}
	return marshalResult(out)
}

func (s *Server) handleResolveDecision(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return mcplib.NewToolResultError("decision service not configured"), nil
	}
	id, err := req.RequireString("request_id")
	if err != nil {
		return mcplib.NewToolResultError("request_id is required"), nil
	}
	action, err := escalation.ParseAction(req.GetString("decision", ""))
	if err != nil {
		return mcplib.NewToolResultError("decision must be approve or reject"), nil
	}
	actor := req.GetString("actor", "")
	if actor == "" {
		actor = "mcp"
	}

	settled, err := s.deps.Decisions.Resolve(ctx, id, action, req.GetString("comment", ""), actor)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to resolve %s", id), err), nil
	}
	return marshalResult(settled)
}

func (s *Server) handleDecisionHistory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return mcplib.NewToolResultError("decision service not configured"), nil
	}
	id, err := req.RequireString("request_id")
	if err != nil {
		return mcplib.NewToolResultError("request_id is required"), nil
	}
	records, err := s.deps.Decisions.History(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get history of %s", id), err), nil
	}
	return marshalResult(records)
}

func (s *Server) handleAnalyzeProvenance(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return mcplib.NewToolResultError("decision service not configured"), nil
	}
	stats, err := s.deps.Decisions.Analyze(ctx, req.GetInt("days", 7))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("analyze failed", err), nil
	}
	return marshalResult(stats)
}

func marshalResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
