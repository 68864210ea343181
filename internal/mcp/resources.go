package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/rota/internal/model"
)

func (s *Server) registerResources() {
	// rota://workitems/recent — the latest work items across all services.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"rota://workitems/recent",
			"Recent Work Items",
			mcplib.WithResourceDescription("The most recent work items across all services"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentWorkItems,
	)

	// rota://workitems/{id}/decision — the routing decision for one item.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"rota://workitems/{id}/decision",
			"Work Item Decision",
			mcplib.WithTemplateDescription("The routing decision for a specific work item"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleWorkItemDecision,
	)
}

func (s *Server) handleRecentWorkItems(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	items, err := s.db.ListWorkItems(ctx, model.WorkItemFilters{Limit: 10})
	if err != nil {
		return nil, fmt.Errorf("mcp: recent work items: %w", err)
	}
	if items == nil {
		items = []model.WorkItem{}
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal work items: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleWorkItemDecision(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	id := workItemIDFromURI(request.Params.URI)
	if id == "" {
		return nil, fmt.Errorf("mcp: invalid resource URI %q", request.Params.URI)
	}

	dec, err := s.decisions.GetDecision(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mcp: decision for %s: %w", id, err)
	}

	data, err := json.MarshalIndent(dec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal decision: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// workItemIDFromURI extracts {id} from rota://workitems/{id}/decision.
func workItemIDFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "rota://workitems/")
	trimmed = strings.TrimSuffix(trimmed, "/decision")
	if trimmed == uri || strings.Contains(trimmed, "/") {
		return ""
	}
	return trimmed
}
