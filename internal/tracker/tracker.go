// Package tracker is the adapter for the external ticketing system. The HTTP
// implementation targets a Jira-v3-style REST surface; everything above it
// depends only on the Client interface.
package tracker

import (
	"context"
	"fmt"
	"time"
)

// CreateIssueRequest describes a new tracker issue.
type CreateIssueRequest struct {
	Project           string `json:"project"`
	Summary           string `json:"summary"`
	Description       string `json:"description"`
	IssueType         string `json:"issue_type"`
	Priority          string `json:"priority"`
	AssigneeAccountID string `json:"assignee_account_id"`
	StoryPoints       *int   `json:"story_points,omitempty"`
}

// CreatedIssue is the tracker's handle for a created issue.
type CreatedIssue struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// Issue is one search result.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// IssueFields carries the subset of issue fields the platform reads.
type IssueFields struct {
	Summary  string `json:"summary"`
	Status   Named  `json:"status"`
	Priority Named  `json:"priority"`
	Assignee *Ref   `json:"assignee,omitempty"`
	Project  Named  `json:"project"`
	Resolved string `json:"resolutiondate,omitempty"`
}

// Named is a tracker object referenced by name.
type Named struct {
	Name string `json:"name"`
}

// Ref is a tracker user reference.
type Ref struct {
	AccountID string `json:"accountId"`
}

// SearchResult is one page of a tracker search.
type SearchResult struct {
	Issues     []Issue `json:"issues"`
	Total      int     `json:"total"`
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
}

// Page bounds a search request.
type Page struct {
	StartAt    int
	MaxResults int
}

// User is a tracker user record.
type User struct {
	AccountID          string `json:"accountId"`
	DisplayName        string `json:"displayName"`
	EmailAddress       string `json:"emailAddress,omitempty"`
	OnCall             bool   `json:"onCall,omitempty"`
	MaxStoryPoints     int    `json:"maxStoryPoints,omitempty"`
	CurrentStoryPoints int    `json:"currentStoryPoints,omitempty"`
}

// Workload is a user's current capacity snapshot.
type Workload struct {
	MaxStoryPoints     int `json:"max_story_points"`
	CurrentStoryPoints int `json:"current_story_points"`
}

// issueTimeLayouts are the timestamp layouts trackers emit on date fields.
// Jira uses a millisecond offset form; simulators tend to emit RFC 3339.
var issueTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
}

// ParseIssueTime parses a tracker timestamp field such as resolutiondate.
func ParseIssueTime(s string) (time.Time, error) {
	for _, layout := range issueTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("tracker: unparseable timestamp %q", s)
}

// Client is the tracker operations the platform uses.
type Client interface {
	CreateIssue(ctx context.Context, req CreateIssueRequest) (CreatedIssue, error)
	TransitionIssue(ctx context.Context, key, state string) error
	SearchIssues(ctx context.Context, q Query, page Page) (SearchResult, error)
	GetUser(ctx context.Context, accountID string) (User, error)
	GetUserWorkload(ctx context.Context, accountID string) (Workload, error)
}
