package mcp

import (
	"context"
	"encoding/json"
	"errors"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

var errNotConfigured = errors.New("decision service not configured")

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"arbiter://decisions/pending",
			"Pending Decisions",
			mcplib.WithResourceDescription("Decisions awaiting a human, oldest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePendingResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"arbiter://policy",
			"Escalation Policy",
			mcplib.WithResourceDescription("Thresholds applied to every new decision"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePolicyResource,
	)
}

func (s *Server) handlePendingResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return nil, errNotConfigured
	}
	return jsonResource(req.Params.URI, s.deps.Decisions.Pending())
}

func (s *Server) handlePolicyResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return nil, errNotConfigured
	}
	return jsonResource(req.Params.URI, s.deps.Decisions.Policy())
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
