package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient talks to a Jira-v3-style tracker over REST.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a tracker client. token may be empty for trackers
// that do not authenticate (e.g. an in-network simulator).
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type createIssuePayload struct {
	Fields struct {
		Project     Named  `json:"project"`
		Summary     string `json:"summary"`
		Description string `json:"description"`
		IssueType   Named  `json:"issuetype"`
		Priority    Named  `json:"priority"`
		Assignee    Ref    `json:"assignee"`
		StoryPoints *int   `json:"storyPoints,omitempty"`
	} `json:"fields"`
}

// CreateIssue creates a tracker issue and returns its id and key.
func (c *HTTPClient) CreateIssue(ctx context.Context, req CreateIssueRequest) (CreatedIssue, error) {
	var payload createIssuePayload
	payload.Fields.Project = Named{Name: req.Project}
	payload.Fields.Summary = req.Summary
	payload.Fields.Description = req.Description
	payload.Fields.IssueType = Named{Name: req.IssueType}
	payload.Fields.Priority = Named{Name: req.Priority}
	payload.Fields.Assignee = Ref{AccountID: req.AssigneeAccountID}
	payload.Fields.StoryPoints = req.StoryPoints

	var out CreatedIssue
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/issue", nil, payload, &out); err != nil {
		return CreatedIssue{}, err
	}
	if out.Key == "" {
		return CreatedIssue{}, fmt.Errorf("tracker: create issue returned no key")
	}
	return out, nil
}

// TransitionIssue moves an issue to the target state.
func (c *HTTPClient) TransitionIssue(ctx context.Context, key, state string) error {
	payload := map[string]any{
		"fields": map[string]any{
			"status": Named{Name: state},
		},
	}
	return c.do(ctx, http.MethodPut, "/rest/api/3/issue/"+url.PathEscape(key), nil, payload, nil)
}

// SearchIssues runs one bounded page of a query-language search.
func (c *HTTPClient) SearchIssues(ctx context.Context, q Query, page Page) (SearchResult, error) {
	if page.MaxResults <= 0 {
		page.MaxResults = 100
	}
	params := url.Values{
		"jql":        {q.String()},
		"startAt":    {strconv.Itoa(page.StartAt)},
		"maxResults": {strconv.Itoa(page.MaxResults)},
	}
	var out SearchResult
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/search", params, nil, &out); err != nil {
		return SearchResult{}, err
	}
	return out, nil
}

// GetUser looks up a tracker user by account id.
func (c *HTTPClient) GetUser(ctx context.Context, accountID string) (User, error) {
	params := url.Values{"query": {accountID}}
	var users []User
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/user/search", params, nil, &users); err != nil {
		return User{}, err
	}
	for _, u := range users {
		if u.AccountID == accountID {
			return u, nil
		}
	}
	if len(users) > 0 {
		return users[0], nil
	}
	return User{}, fmt.Errorf("tracker: user %s not found", accountID)
}

// GetUserWorkload returns the user's story point capacity and current load.
func (c *HTTPClient) GetUserWorkload(ctx context.Context, accountID string) (Workload, error) {
	u, err := c.GetUser(ctx, accountID)
	if err != nil {
		return Workload{}, err
	}
	w := Workload{MaxStoryPoints: u.MaxStoryPoints, CurrentStoryPoints: u.CurrentStoryPoints}
	if w.MaxStoryPoints <= 0 {
		w.MaxStoryPoints = 21
	}
	return w, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tracker: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("tracker: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tracker: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tracker: decode %s %s response: %w", method, path, err)
	}
	return nil
}

// StatusError is a non-2xx tracker response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracker: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}
