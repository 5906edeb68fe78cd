// Package mcp exposes kiroku's comparisons, session history and report
// search to MCP clients.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kiroku/internal/compare"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/search"
	"github.com/ashita-ai/kiroku/internal/sessionstore"
)

// ReportReader loads stored reports for the report resource.
type ReportReader interface {
	GetReport(ctx context.Context, id uuid.UUID) (model.Report, error)
}

// Server wraps the mcp-go server with kiroku's services.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	comparator *compare.Comparator
	sessions   *sessionstore.Guard
	searcher   *search.Service
	reports    ReportReader
	logger     *slog.Logger
}

// New creates an MCP server with every tool, resource and prompt
// registered. searcher and reports may be nil; the tools that need them
// then report an error result.
func New(comparator *compare.Comparator, sessions *sessionstore.Guard, searcher *search.Service, reports ReportReader, logger *slog.Logger, version string) *Server {
	s := &Server{
		comparator: comparator,
		sessions:   sessions,
		searcher:   searcher,
		reports:    reports,
		logger:     logger,
	}
	s.mcpServer = mcpserver.NewMCPServer(
		"kiroku",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithInstructions("kiroku records API test runs and compares each run with the previous one. "+
			"Use kiroku_compare_all for a project overview, kiroku_compare for one suite, "+
			"kiroku_recent_sessions for raw history and kiroku_search to find past reports."),
	)
	s.registerTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error()), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}
