// Package mcp exposes read-only routing data over the Model Context
// Protocol, so MCP-compatible agents can inspect work items, decisions,
// and candidate profiles without touching the write paths.
package mcp

import (
	"context"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/storage"
)

// ProfileSource serves candidate profiles for a service. The learner
// implements it locally; the typed HTTP client implements it remotely.
type ProfileSource interface {
	GetProfiles(ctx context.Context, service string) ([]model.CandidateProfile, error)
}

// AuditSource resolves decisions with their verified audit trail.
type AuditSource interface {
	GetDecision(ctx context.Context, workItemID string) (model.Decision, error)
	GetAudit(ctx context.Context, workItemID string) (model.DecisionAudit, error)
}

// Server wraps the MCP server with rota's read paths.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	profiles  ProfileSource
	decisions AuditSource
	logger    *slog.Logger
}

// New creates and configures an MCP server with all resources and tools.
func New(db *storage.DB, profiles ProfileSource, decisions AuditSource, logger *slog.Logger) *Server {
	s := &Server{
		db:        db,
		profiles:  profiles,
		decisions: decisions,
		logger:    logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"rota",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
	}
}

func textResult(data string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: data},
		},
	}
}
