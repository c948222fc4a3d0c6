// Package mcp exposes the decision service to AI agents over the Model
// Context Protocol (streamable HTTP transport).
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/arbiter/internal/domain/decision"
	"github.com/Strob0t/arbiter/internal/domain/escalation"
	"github.com/Strob0t/arbiter/internal/domain/provenance"
	"github.com/Strob0t/arbiter/internal/service"
)

// DecisionService is the subset of the orchestrator the tools call.
type DecisionService interface {
	Submit(ctx context.Context, req decision.Request) (service.Outcome, error)
	Resolve(ctx context.Context, requestID string, action escalation.Action, comment, actor string) (escalation.Decision, error)
	History(ctx context.Context, requestID string) ([]provenance.Record, error)
	Analyze(ctx context.Context, periodDays int) (provenance.Stats, error)
	Pending() []service.Outcome
	Policy() escalation.Policy
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Name    string
	Version string
	APIKey  string // empty disables auth
}

// ServerDeps holds the services the tools and resources read from.
type ServerDeps struct {
	Decisions DecisionService
}

// Server wraps an mcp-go server and its streamable HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      *mcpserver.StreamableHTTPServer
}

// NewServer creates the MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	s.http = mcpserver.NewStreamableHTTPServer(s.mcpServer, mcpserver.WithStateLess(true))
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the authenticated HTTP handler to mount on the API router.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, s.http)
}
