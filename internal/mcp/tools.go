package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kiroku/internal/compare"
	"github.com/ashita-ai/kiroku/internal/model"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_compare",
			mcplib.WithDescription(`Compare the latest run of one test suite with the run before it.

WHAT YOU GET BACK: success rates of both runs, the delta and trend, and the
endpoint sets: added, removed, new_failures, recurring_failures and fixed.
When fewer than two runs exist, available is false and reason says why.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("project", mcplib.Description("Project name"), mcplib.Required()),
			mcplib.WithString("subproject", mcplib.Description("Subproject (test suite) name"), mcplib.Required()),
		),
		s.handleCompare,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_compare_all",
			mcplib.WithDescription(`Compare every subproject of a project and return the weighted average
success rate of their latest runs. Subprojects with fewer than two runs are
listed under insufficient.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("project", mcplib.Description("Project name"), mcplib.Required()),
		),
		s.handleCompareAll,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_recent_sessions",
			mcplib.WithDescription("List the most recent runs of a test suite, newest first, with call counts and success rates."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("project", mcplib.Description("Project name"), mcplib.Required()),
			mcplib.WithString("subproject", mcplib.Description("Subproject (test suite) name"), mcplib.Required()),
			mcplib.WithBoolean("include_calls", mcplib.Description("Include every recorded call instead of counts only")),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum sessions to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleRecentSessions,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("kiroku_search",
			mcplib.WithDescription(`Search stored run reports. Uses semantic search when a vector index is
configured and falls back to keyword matching over narratives and errors.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("query", mcplib.Description("What to look for, e.g. 'checkout timeouts'"), mcplib.Required()),
			mcplib.WithString("project", mcplib.Description("Restrict to one project")),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum reports to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleSearch,
	)
}

func requireNames(request mcplib.CallToolRequest, withSubproject bool) (project, subproject string, errRes *mcplib.CallToolResult) {
	project = request.GetString("project", "")
	if err := model.ValidateName("project", project); err != nil {
		return "", "", errorResult(err.Error())
	}
	if !withSubproject {
		return project, "", nil
	}
	subproject = request.GetString("subproject", "")
	if err := model.ValidateName("subproject", subproject); err != nil {
		return "", "", errorResult(err.Error())
	}
	return project, subproject, nil
}

func (s *Server) handleCompare(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	project, subproject, errRes := requireNames(request, true)
	if errRes != nil {
		return errRes, nil
	}
	return jsonResult(s.comparator.Compare(ctx, project, subproject))
}

func (s *Server) handleCompareAll(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	project, _, errRes := requireNames(request, false)
	if errRes != nil {
		return errRes, nil
	}
	return jsonResult(s.comparator.CompareAll(ctx, project))
}

type sessionView struct {
	model.SessionSummary
	Calls []model.CallRecord `json:"records,omitempty"`
}

func (s *Server) handleRecentSessions(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	project, subproject, errRes := requireNames(request, true)
	if errRes != nil {
		return errRes, nil
	}
	limit := min(max(request.GetInt("limit", 5), 1), 100)
	withCalls := request.GetBool("include_calls", false)

	sessions := s.sessions.RecentSessions(ctx, project, subproject, limit)
	out := make([]sessionView, len(sessions))
	for i, sess := range sessions {
		out[i].SessionSummary = compare.Summarize(sess)
		if withCalls {
			out[i].Calls = sess.Endpoints
		}
	}
	return jsonResult(map[string]any{
		"project":    project,
		"subproject": subproject,
		"sessions":   out,
	})
}

func (s *Server) handleSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	if s.searcher == nil {
		return errorResult("report search is not configured"), nil
	}
	limit := min(max(request.GetInt("limit", 10), 1), 100)

	hits, err := s.searcher.Search(ctx, request.GetString("project", ""), query, limit)
	if err != nil {
		s.logger.Warn("mcp: search failed", "error", err)
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}
	if hits == nil {
		hits = []model.ReportSummary{}
	}
	return jsonResult(map[string]any{"results": hits, "total": len(hits)})
}
