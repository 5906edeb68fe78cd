package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("investigate-regression",
			mcplib.WithPromptDescription("Walk through a drop in a suite's success rate"),
			mcplib.WithArgument("project",
				mcplib.ArgumentDescription("Project name"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("subproject",
				mcplib.ArgumentDescription("Subproject (test suite) name"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleInvestigatePrompt,
	)
}

func (s *Server) handleInvestigatePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	project := request.Params.Arguments["project"]
	subproject := request.Params.Arguments["subproject"]
	if project == "" || subproject == "" {
		return nil, fmt.Errorf("project and subproject arguments are required")
	}

	text := fmt.Sprintf(`Investigate the latest run of %[1]s/%[2]s.

1. Call kiroku_compare with project=%[1]q and subproject=%[2]q.
2. If new_failures is not empty, call kiroku_recent_sessions with include_calls=true
   and read the responses of the failing endpoints.
3. Call kiroku_search with the failing endpoint paths to find earlier reports
   that mention them.
4. Summarize: what broke, since when, and whether it failed before.`, project, subproject)

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Investigate a regression in %s/%s", project, subproject),
		Messages: []mcplib.PromptMessage{
			{Role: mcplib.RoleUser, Content: mcplib.TextContent{Type: "text", Text: text}},
		},
	}, nil
}
