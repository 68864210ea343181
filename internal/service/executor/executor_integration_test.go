package executor

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/rota/internal/model"
	"github.com/ashita-ai/rota/internal/storage"
	"github.com/ashita-ai/rota/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

// fastService builds a full Service against the test DB with millisecond
// retry backoff so outage paths stay quick.
func fastService(tr *stubTracker) *Service {
	svc := New(testDB, tr, testutil.TestLogger())
	svc.retry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	return svc
}

// seedDecision persists a work item, an assignable human, and a decision,
// returning the execute request for them.
func seedDecision(t *testing.T) model.ExecuteRequest {
	t.Helper()
	ctx := context.Background()

	id := "h1-" + uuid.NewString()
	account := id + "-acct"
	h, err := testDB.UpsertHuman(ctx, model.Human{
		ID:               id,
		DisplayName:      "Hana",
		TrackerAccountID: &account,
		Active:           true,
	})
	require.NoError(t, err)

	w, err := testDB.CreateWorkItem(ctx, model.WorkItem{
		ID:           model.NewWorkItemID(time.Now()),
		Type:         model.WorkItemIncident,
		Service:      "api",
		Severity:     model.Sev2,
		Description:  "500 on /v1/users",
		OriginSystem: "api",
	})
	require.NoError(t, err)

	d, err := testDB.CreateDecisionAudit(ctx, model.Decision{
		ID:             model.NewDecisionID(),
		WorkItemID:     w.ID,
		PrimaryHumanID: h.ID,
		Confidence:     0.8,
	}, nil, nil)
	require.NoError(t, err)

	return model.ExecuteRequest{
		DecisionID:     d.ID,
		WorkItemID:     w.ID,
		PrimaryHumanID: h.ID,
	}
}

func TestExecuteCreatesTicketAndSetsKey(t *testing.T) {
	ctx := context.Background()
	req := seedDecision(t)
	tr := &stubTracker{}
	svc := fastService(tr)

	resp, err := svc.Execute(ctx, req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.False(t, resp.Fallback)
	assert.False(t, resp.Existing)
	require.NotNil(t, resp.Action.ExternalTicketKey)
	assert.Equal(t, "API-42", *resp.Action.ExternalTicketKey)
	assert.Nil(t, resp.Action.FallbackMessage)
	assert.Equal(t, 1, tr.calls)

	// The ticket key lands on the work item.
	item, err := testDB.GetWorkItem(ctx, req.WorkItemID)
	require.NoError(t, err)
	require.NotNil(t, item.ExternalTicketKey)
	assert.Equal(t, "API-42", *item.ExternalTicketKey)
}

func TestExecuteReplayReturnsExistingAction(t *testing.T) {
	ctx := context.Background()
	req := seedDecision(t)
	tr := &stubTracker{}
	svc := fastService(tr)

	first, err := svc.Execute(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Existing)

	again, err := svc.Execute(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, first.Action.ID, again.Action.ID)
	assert.Equal(t, 1, tr.calls, "replay must not touch the tracker")
}

func TestExecuteTrackerOutagePersistsFallback(t *testing.T) {
	ctx := context.Background()
	req := seedDecision(t)
	tr := &stubTracker{errs: []error{
		statusErr(500), statusErr(500), statusErr(500),
	}}
	svc := fastService(tr)

	resp, err := svc.Execute(ctx, req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.True(t, resp.Fallback)
	assert.Equal(t, 3, tr.calls, "all attempts exhausted")
	assert.Nil(t, resp.Action.ExternalTicketKey)
	require.NotNil(t, resp.Action.FallbackMessage)
	assert.Contains(t, *resp.Action.FallbackMessage, "Primary: Hana")
	assert.Contains(t, *resp.Action.FallbackMessage, "500 on /v1/users")

	// The decision row is untouched; the action is durable.
	stored, err := testDB.GetExecutedActionByDecision(ctx, req.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, resp.Action.ID, stored.ID)

	item, err := testDB.GetWorkItem(ctx, req.WorkItemID)
	require.NoError(t, err)
	assert.Nil(t, item.ExternalTicketKey)
}

func TestExecuteRejectsUnassignableHuman(t *testing.T) {
	ctx := context.Background()
	req := seedDecision(t)

	// Strip the tracker account; ticket assignment becomes impossible.
	h, err := testDB.GetHuman(ctx, req.PrimaryHumanID)
	require.NoError(t, err)
	h.TrackerAccountID = nil
	_, err = testDB.UpsertHuman(ctx, h)
	require.NoError(t, err)

	tr := &stubTracker{}
	_, err = fastService(tr).Execute(ctx, req)
	require.Error(t, err)
	assert.Equal(t, 0, tr.calls)
}
