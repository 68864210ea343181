package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/rota/internal/model"
)

func (s *Server) registerTools() {
	// rota_get_work_item — look up one work item by id.
	s.mcpServer.AddTool(
		mcplib.NewTool("rota_get_work_item",
			mcplib.WithDescription(`Look up a work item by its id.

WHAT YOU GET BACK: the stored work item — service, severity, type,
description, origin system, and the external ticket key if one was created.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("work_item_id",
				mcplib.Description("The work item id (UUID)"),
				mcplib.Required(),
			),
		),
		s.handleGetWorkItem,
	)

	// rota_list_work_items — recent work items with optional filters.
	s.mcpServer.AddTool(
		mcplib.NewTool("rota_list_work_items",
			mcplib.WithDescription(`List recent work items, newest first.

Filter by service and/or severity to narrow the view. Use this to find
the work item id before calling rota_get_decision or rota_get_audit.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("service",
				mcplib.Description("Optional: only items for this service (e.g. backend, api)"),
			),
			mcplib.WithString("severity",
				mcplib.Description("Optional: only items with this severity (sev1, sev2, sev3)"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of items to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleListWorkItems,
	)

	// rota_get_decision — the routing decision for a work item.
	s.mcpServer.AddTool(
		mcplib.NewTool("rota_get_decision",
			mcplib.WithDescription(`Get the routing decision for a work item.

WHAT YOU GET BACK: the assigned human, backups, confidence score, and
the decision status. Returns an error if no decision exists yet.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("work_item_id",
				mcplib.Description("The work item id the decision was made for"),
				mcplib.Required(),
			),
		),
		s.handleGetDecision,
	)

	// rota_get_audit — the full audit trail for a decision.
	s.mcpServer.AddTool(
		mcplib.NewTool("rota_get_audit",
			mcplib.WithDescription(`Get the full audit trail for a work item's routing decision.

WHAT YOU GET BACK: every candidate that was scored with their factor
breakdown, the constraint filter results, and whether the stored record
still matches its integrity hash. Use this to answer "why was this
person chosen?"`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("work_item_id",
				mcplib.Description("The work item id the decision was made for"),
				mcplib.Required(),
			),
		),
		s.handleGetAudit,
	)

	// rota_get_profiles — candidate profiles for a service.
	s.mcpServer.AddTool(
		mcplib.NewTool("rota_get_profiles",
			mcplib.WithDescription(`Get the learned candidate profiles for a service.

WHAT YOU GET BACK: one profile per human who has history on the
service — fit score, resolve/transfer counts, on-call status, and
current workload. This is the same view the decision engine scores.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("service",
				mcplib.Description("The service to list profiles for (e.g. backend)"),
				mcplib.Required(),
			),
		),
		s.handleGetProfiles,
	)
}

func (s *Server) handleGetWorkItem(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("work_item_id", "")
	if id == "" {
		return errorResult("work_item_id is required"), nil
	}

	item, err := s.db.GetWorkItem(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("get work item: %v", err)), nil
	}
	return marshalResult(item)
}

func (s *Server) handleListWorkItems(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	severity := model.Severity(request.GetString("severity", ""))
	if severity != "" && !model.ValidSeverity(severity) {
		return errorResult("severity must be one of sev1, sev2, sev3"), nil
	}

	items, err := s.db.ListWorkItems(ctx, model.WorkItemFilters{
		Service:  request.GetString("service", ""),
		Severity: severity,
		Limit:    request.GetInt("limit", 10),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("list work items: %v", err)), nil
	}
	if items == nil {
		items = []model.WorkItem{}
	}
	return marshalResult(items)
}

func (s *Server) handleGetDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("work_item_id", "")
	if id == "" {
		return errorResult("work_item_id is required"), nil
	}

	dec, err := s.decisions.GetDecision(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("get decision: %v", err)), nil
	}
	return marshalResult(dec)
}

func (s *Server) handleGetAudit(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("work_item_id", "")
	if id == "" {
		return errorResult("work_item_id is required"), nil
	}

	audit, err := s.decisions.GetAudit(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("get audit: %v", err)), nil
	}
	return marshalResult(audit)
}

func (s *Server) handleGetProfiles(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	service := request.GetString("service", "")
	if service == "" {
		return errorResult("service is required"), nil
	}

	profiles, err := s.profiles.GetProfiles(ctx, service)
	if err != nil {
		return errorResult(fmt.Sprintf("get profiles: %v", err)), nil
	}
	if profiles == nil {
		profiles = []model.CandidateProfile{}
	}
	return marshalResult(profiles)
}

func marshalResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return textResult(string(data)), nil
}
