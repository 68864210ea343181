package client

import (
	"context"
	"net/url"

	"github.com/ashita-ai/rota/internal/model"
)

// Learner talks to the learner service. It satisfies the profile source the
// decision service consumes and the deliverer the outcome relay drives.
type Learner struct {
	c *Client
}

// NewLearner wraps a transport client with learner endpoints.
func NewLearner(c *Client) *Learner { return &Learner{c: c} }

func (l *Learner) GetProfiles(ctx context.Context, service string) ([]model.CandidateProfile, error) {
	var profiles []model.CandidateProfile
	path := "/v1/profiles?service=" + url.QueryEscape(service)
	if err := l.c.get(ctx, path, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (l *Learner) GetStats(ctx context.Context, humanID string) (model.HumanStats, error) {
	var stats model.HumanStats
	path := "/v1/stats?human_id=" + url.QueryEscape(humanID)
	if err := l.c.get(ctx, path, &stats); err != nil {
		return model.HumanStats{}, err
	}
	return stats, nil
}

func (l *Learner) ProcessOutcome(ctx context.Context, o model.Outcome) (model.ProcessOutcomeResult, error) {
	var result model.ProcessOutcomeResult
	if err := l.c.post(ctx, "/v1/outcomes", o, &result); err != nil {
		return model.ProcessOutcomeResult{}, err
	}
	return result, nil
}

// Decision talks to the decision service.
type Decision struct {
	c *Client
}

// NewDecision wraps a transport client with decision endpoints.
func NewDecision(c *Client) *Decision { return &Decision{c: c} }

func (d *Decision) Decide(ctx context.Context, workItemID string) (model.DecideResponse, error) {
	var resp model.DecideResponse
	body := model.DecideRequest{WorkItemID: workItemID}
	if err := d.c.post(ctx, "/v1/decide", body, &resp); err != nil {
		return model.DecideResponse{}, err
	}
	return resp, nil
}

func (d *Decision) GetDecision(ctx context.Context, workItemID string) (model.Decision, error) {
	var dec model.Decision
	if err := d.c.get(ctx, "/v1/decisions/"+url.PathEscape(workItemID), &dec); err != nil {
		return model.Decision{}, err
	}
	return dec, nil
}

func (d *Decision) GetAudit(ctx context.Context, workItemID string) (model.DecisionAudit, error) {
	var audit model.DecisionAudit
	if err := d.c.get(ctx, "/v1/audit/"+url.PathEscape(workItemID), &audit); err != nil {
		return model.DecisionAudit{}, err
	}
	return audit, nil
}

// Explain talks to the explain service.
type Explain struct {
	c *Client
}

// NewExplain wraps a transport client with the explain endpoint.
func NewExplain(c *Client) *Explain { return &Explain{c: c} }

func (e *Explain) Explain(ctx context.Context, req model.ExplainRequest) (model.EvidenceBundle, error) {
	var bundle model.EvidenceBundle
	if err := e.c.post(ctx, "/v1/explain", req, &bundle); err != nil {
		return model.EvidenceBundle{}, err
	}
	return bundle, nil
}

// Executor talks to the execute service.
type Executor struct {
	c *Client
}

// NewExecutor wraps a transport client with execute endpoints.
func NewExecutor(c *Client) *Executor { return &Executor{c: c} }

func (e *Executor) Execute(ctx context.Context, req model.ExecuteRequest) (model.ExecuteResponse, error) {
	var resp model.ExecuteResponse
	if err := e.c.post(ctx, "/v1/execute", req, &resp); err != nil {
		return model.ExecuteResponse{}, err
	}
	return resp, nil
}

func (e *Executor) GetAction(ctx context.Context, decisionID string) (model.ExecutedAction, error) {
	var action model.ExecutedAction
	path := "/v1/executed_actions?decision_id=" + url.QueryEscape(decisionID)
	if err := e.c.get(ctx, path, &action); err != nil {
		return model.ExecutedAction{}, err
	}
	return action, nil
}
