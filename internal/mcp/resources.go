package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/render"
)

const (
	projectsURI       = "kiroku://projects"
	reportURIPrefix   = "kiroku://reports/"
	reportURITemplate = reportURIPrefix + "{id}"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(projectsURI, "Projects",
			mcplib.WithResourceDescription("Every project with its subprojects"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleProjects,
	)

	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(reportURITemplate, "Report",
			mcplib.WithTemplateDescription("A stored run report rendered as markdown"),
			mcplib.WithTemplateMIMEType("text/markdown"),
		),
		s.handleReport,
	)
}

func (s *Server) handleProjects(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	names := s.sessions.Projects(ctx)
	out := make([]model.ProjectListing, 0, len(names))
	for _, name := range names {
		subs := s.sessions.Subprojects(ctx, name)
		if subs == nil {
			subs = []string{}
		}
		out = append(out, model.ProjectListing{Name: name, Subprojects: subs})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal projects: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: projectsURI, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func (s *Server) handleReport(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id, err := uuid.Parse(strings.TrimPrefix(uri, reportURIPrefix))
	if err != nil || !strings.HasPrefix(uri, reportURIPrefix) {
		return nil, fmt.Errorf("mcp: invalid report URI: %s", uri)
	}
	if s.reports == nil {
		return nil, fmt.Errorf("mcp: report archive not configured")
	}
	report, err := s.reports.GetReport(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: report %s: %w", id, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: uri, MIMEType: "text/markdown", Text: render.Markdown(report)},
	}, nil
}
