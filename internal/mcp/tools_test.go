package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/rota/internal/apperr"
	"github.com/ashita-ai/rota/internal/model"
)

type stubProfiles struct {
	profiles []model.CandidateProfile
	err      error
}

func (s *stubProfiles) GetProfiles(ctx context.Context, service string) ([]model.CandidateProfile, error) {
	return s.profiles, s.err
}

type stubDecisions struct {
	decision model.Decision
	audit    model.DecisionAudit
	err      error
}

func (s *stubDecisions) GetDecision(ctx context.Context, workItemID string) (model.Decision, error) {
	return s.decision, s.err
}

func (s *stubDecisions) GetAudit(ctx context.Context, workItemID string) (model.DecisionAudit, error) {
	return s.audit, s.err
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected TextContent")
	return text.Text
}

func TestGetProfilesTool(t *testing.T) {
	srv := New(nil, &stubProfiles{profiles: []model.CandidateProfile{
		{HumanID: "h-1", DisplayName: "Dana", Service: "backend", FitScore: 0.8},
	}}, &stubDecisions{}, slog.Default())

	result, err := srv.handleGetProfiles(context.Background(), toolRequest("rota_get_profiles", map[string]any{
		"service": "backend",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var profiles []model.CandidateProfile
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &profiles))
	require.Len(t, profiles, 1)
	assert.Equal(t, "h-1", profiles[0].HumanID)
}

func TestGetProfilesToolRequiresService(t *testing.T) {
	srv := New(nil, &stubProfiles{}, &stubDecisions{}, slog.Default())

	result, err := srv.handleGetProfiles(context.Background(), toolRequest("rota_get_profiles", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "service is required")
}

func TestGetProfilesToolEmptySliceNotNull(t *testing.T) {
	srv := New(nil, &stubProfiles{}, &stubDecisions{}, slog.Default())

	result, err := srv.handleGetProfiles(context.Background(), toolRequest("rota_get_profiles", map[string]any{
		"service": "frontend",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "[]", parseToolText(t, result))
}

func TestGetDecisionTool(t *testing.T) {
	srv := New(nil, &stubProfiles{}, &stubDecisions{decision: model.Decision{
		ID:             "d-1",
		WorkItemID:     "wi-1",
		PrimaryHumanID: "h-1",
		Confidence:     0.72,
	}}, slog.Default())

	result, err := srv.handleGetDecision(context.Background(), toolRequest("rota_get_decision", map[string]any{
		"work_item_id": "wi-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var dec model.Decision
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &dec))
	assert.Equal(t, "h-1", dec.PrimaryHumanID)
}

func TestGetDecisionToolSurfacesErrors(t *testing.T) {
	srv := New(nil, &stubProfiles{}, &stubDecisions{
		err: apperr.New(apperr.KindNotFound, "no decision for work item wi-9"),
	}, slog.Default())

	result, err := srv.handleGetDecision(context.Background(), toolRequest("rota_get_decision", map[string]any{
		"work_item_id": "wi-9",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "no decision")
}

func TestGetAuditTool(t *testing.T) {
	srv := New(nil, &stubProfiles{}, &stubDecisions{audit: model.DecisionAudit{
		Decision: model.Decision{ID: "d-1", WorkItemID: "wi-1"},
		HashOK:   true,
	}}, slog.Default())

	result, err := srv.handleGetAudit(context.Background(), toolRequest("rota_get_audit", map[string]any{
		"work_item_id": "wi-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var audit model.DecisionAudit
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &audit))
	assert.True(t, audit.HashOK)
}

func TestGetAuditToolRequiresID(t *testing.T) {
	srv := New(nil, &stubProfiles{}, &stubDecisions{err: errors.New("unreachable")}, slog.Default())

	result, err := srv.handleGetAudit(context.Background(), toolRequest("rota_get_audit", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWorkItemIDFromURI(t *testing.T) {
	assert.Equal(t, "wi-1", workItemIDFromURI("rota://workitems/wi-1/decision"))
	assert.Equal(t, "", workItemIDFromURI("rota://humans/h-1"))
	assert.Equal(t, "", workItemIDFromURI("rota://workitems/a/b/decision"))
}
