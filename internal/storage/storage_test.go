package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
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

func mkWorkItem(t *testing.T, service string) model.WorkItem {
	t.Helper()
	w, err := testDB.CreateWorkItem(context.Background(), model.WorkItem{
		ID:           uuid.NewString(),
		Type:         model.WorkItemIncident,
		Service:      service,
		Severity:     model.Sev2,
		Description:  "connection pool exhausted under load",
		OriginSystem: "webhook",
	})
	require.NoError(t, err)
	return w
}

func mkHuman(t *testing.T, name string) model.Human {
	t.Helper()
	h, err := testDB.UpsertHuman(context.Background(), model.Human{
		ID:          uuid.NewString(),
		DisplayName: name,
		Active:      true,
	})
	require.NoError(t, err)
	return h
}

func mkDecision(t *testing.T, workItemID string, primary model.Human, backups ...string) model.Decision {
	t.Helper()
	d, err := testDB.CreateDecisionAudit(context.Background(),
		model.Decision{
			ID:             uuid.NewString(),
			WorkItemID:     workItemID,
			PrimaryHumanID: primary.ID,
			BackupHumanIDs: backups,
			Confidence:     0.81,
		},
		[]model.DecisionCandidate{
			{HumanID: primary.ID, Score: 0.81, Rank: 1, Breakdown: model.ScoreBreakdown{
				model.BreakdownFitScore:   0.7,
				model.BreakdownFinalScore: 0.81,
			}},
		},
		[]model.ConstraintResult{
			{ConstraintName: model.ConstraintAvailability, Passed: true},
			{ConstraintName: model.ConstraintCapacity, Passed: true},
		},
	)
	require.NoError(t, err)
	return d
}

func TestCreateAndGetWorkItem(t *testing.T) {
	ctx := context.Background()

	raw := "OOMKilled loop in payments worker"
	points := 5
	vec := pgvector.NewVector(make([]float32, 1024))
	created, err := testDB.CreateWorkItem(ctx, model.WorkItem{
		ID:           uuid.NewString(),
		Type:         model.WorkItemTicket,
		Service:      "payments",
		Severity:     model.Sev3,
		Description:  "intermittent 500 on /v1/charges",
		RawLog:       &raw,
		StoryPoints:  &points,
		Embedding:    &vec,
		Coords:       &model.Coords3D{X: 0.1, Y: -0.2, Z: 0.3},
		OriginSystem: "api",
	})
	require.NoError(t, err)

	got, err := testDB.GetWorkItem(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WorkItemTicket, got.Type)
	assert.Equal(t, "payments", got.Service)
	assert.Equal(t, model.Sev3, got.Severity)
	require.NotNil(t, got.RawLog)
	assert.Equal(t, raw, *got.RawLog)
	require.NotNil(t, got.StoryPoints)
	assert.Equal(t, 5, *got.StoryPoints)
	require.NotNil(t, got.Coords)
	assert.InDelta(t, -0.2, got.Coords.Y, 1e-9)
	assert.Nil(t, got.ExternalTicketKey)

	// Embedded items enqueue an index outbox row in the same transaction.
	pending, err := testDB.CountOutboxPending(ctx, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pending, int64(1))

	_, err = testDB.CreateWorkItem(ctx, created)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	_, err = testDB.GetWorkItem(ctx, uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListWorkItemsFilters(t *testing.T) {
	ctx := context.Background()
	service := "list-" + uuid.NewString()[:8]

	mkWorkItem(t, service)
	mkWorkItem(t, service)
	mkWorkItem(t, "other-"+uuid.NewString()[:8])

	items, err := testDB.ListWorkItems(ctx, model.WorkItemFilters{Service: service})
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, service, it.Service)
	}

	items, err = testDB.ListWorkItems(ctx, model.WorkItemFilters{Service: service, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = testDB.ListWorkItems(ctx, model.WorkItemFilters{Service: service, Severity: model.Sev1})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSetExternalTicketKeyWriteOnce(t *testing.T) {
	ctx := context.Background()
	w := mkWorkItem(t, "checkout")

	require.NoError(t, testDB.SetExternalTicketKey(ctx, w.ID, "OPS-101"))
	// Second write is a no-op, not an error.
	require.NoError(t, testDB.SetExternalTicketKey(ctx, w.ID, "OPS-999"))

	got, err := testDB.GetWorkItem(ctx, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExternalTicketKey)
	assert.Equal(t, "OPS-101", *got.ExternalTicketKey)

	byKey, err := testDB.GetWorkItemByTicketKey(ctx, "OPS-101")
	require.NoError(t, err)
	assert.Equal(t, w.ID, byKey.ID)
}

func TestDecisionAuditRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := mkWorkItem(t, "search")
	alice := mkHuman(t, "Alice")
	bob := mkHuman(t, "Bob")
	carol := mkHuman(t, "Carol")

	reason := "on vacation"
	d, err := testDB.CreateDecisionAudit(ctx,
		model.Decision{
			ID:             uuid.NewString(),
			WorkItemID:     w.ID,
			PrimaryHumanID: alice.ID,
			BackupHumanIDs: []string{bob.ID},
			Confidence:     0.77,
			ContentHash:    "deadbeef",
		},
		[]model.DecisionCandidate{
			{HumanID: alice.ID, Score: 0.77, Rank: 1, Breakdown: model.ScoreBreakdown{
				model.BreakdownFitScore:         0.8,
				model.BreakdownSeverityMatch:    0.6,
				model.BreakdownCapacity:         0.9,
				model.BreakdownVectorSimilarity: 0.5,
				model.BreakdownFinalScore:       0.77,
			}},
			{HumanID: bob.ID, Score: 0.61, Rank: 2, Breakdown: model.ScoreBreakdown{
				model.BreakdownFinalScore: 0.61,
			}},
			{HumanID: carol.ID, Rank: 3, Filtered: true, FilterReason: &reason},
		},
		[]model.ConstraintResult{
			{ConstraintName: model.ConstraintAvailability, Passed: true},
			{ConstraintName: model.ConstraintCapacity, Passed: false, Reason: &reason},
		},
	)
	require.NoError(t, err)

	got, err := testDB.GetDecisionByWorkItem(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, alice.ID, got.PrimaryHumanID)
	assert.Equal(t, []string{bob.ID}, got.BackupHumanIDs)
	assert.Equal(t, "deadbeef", got.ContentHash)

	byID, err := testDB.GetDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, got.WorkItemID, byID.WorkItemID)

	cands, err := testDB.GetDecisionCandidates(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, cands, 3)
	// Ordered by rank; filtered candidates trail the survivors.
	assert.Equal(t, alice.ID, cands[0].HumanID)
	assert.InDelta(t, 0.77, cands[0].Breakdown[model.BreakdownFinalScore], 1e-9)
	assert.True(t, cands[2].Filtered)
	require.NotNil(t, cands[2].FilterReason)
	assert.Equal(t, reason, *cands[2].FilterReason)

	cons, err := testDB.GetConstraintResults(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, cons, 2)
}

func TestDecisionUniquePerWorkItem(t *testing.T) {
	ctx := context.Background()
	w := mkWorkItem(t, "billing")
	alice := mkHuman(t, "Alice")
	bob := mkHuman(t, "Bob")

	first := mkDecision(t, w.ID, alice)

	// The losing side of a concurrent decide gets ErrDuplicate and reads
	// the winner back.
	_, err := testDB.CreateDecisionAudit(ctx,
		model.Decision{ID: uuid.NewString(), WorkItemID: w.ID, PrimaryHumanID: bob.ID, Confidence: 0.5},
		nil, nil,
	)
	require.ErrorIs(t, err, storage.ErrDuplicate)

	got, err := testDB.GetDecisionByWorkItem(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, alice.ID, got.PrimaryHumanID)
}

func TestExecutedActionUniquePerDecision(t *testing.T) {
	ctx := context.Background()
	w := mkWorkItem(t, "payments")
	alice := mkHuman(t, "Alice")
	d := mkDecision(t, w.ID, alice)

	key := "OPS-202"
	a, err := testDB.CreateExecutedAction(ctx, model.ExecutedAction{
		ID:                uuid.NewString(),
		DecisionID:        d.ID,
		ExternalTicketKey: &key,
		AssignedHumanID:   alice.ID,
		BackupHumanIDs:    []string{},
	})
	require.NoError(t, err)
	assert.False(t, a.Fallback())

	msg := "assign to Alice"
	_, err = testDB.CreateExecutedAction(ctx, model.ExecutedAction{
		ID:              uuid.NewString(),
		DecisionID:      d.ID,
		AssignedHumanID: alice.ID,
		FallbackMessage: &msg,
	})
	require.ErrorIs(t, err, storage.ErrDuplicate)

	got, err := testDB.GetExecutedActionByDecision(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	require.NotNil(t, got.ExternalTicketKey)
	assert.Equal(t, key, *got.ExternalTicketKey)
	assert.Nil(t, got.FallbackMessage)
}

func TestApplyResolvedOutcomeIdempotent(t *testing.T) {
	ctx := context.Background()
	service := "resolved-" + uuid.NewString()[:8]
	w := mkWorkItem(t, service)
	alice := mkHuman(t, "Alice")

	o := model.Outcome{
		EventID:    uuid.NewString(),
		WorkItemID: w.ID,
		Type:       model.OutcomeResolved,
		ActorID:    alice.ID,
		Service:    service,
		OccurredAt: time.Now().UTC(),
	}

	applied, err := testDB.ApplyResolvedOutcome(ctx, o)
	require.NoError(t, err)
	assert.True(t, applied)

	stats, err := testDB.GetStatsRow(ctx, alice.ID, service)
	require.NoError(t, err)
	// First resolve seeds at base 0.5 plus the boost.
	assert.InDelta(t, 0.6, stats.FitScore, 1e-9)
	assert.Equal(t, 1, stats.ResolvesCount)
	require.NotNil(t, stats.LastResolvedAt)

	edges, err := testDB.CountResolvedEdges(ctx, alice.ID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, edges)

	processed, err := testDB.IsOutcomeProcessed(ctx, o.EventID)
	require.NoError(t, err)
	assert.True(t, processed)

	// A replayed event id commits nothing.
	applied, err = testDB.ApplyResolvedOutcome(ctx, o)
	require.NoError(t, err)
	assert.False(t, applied)

	after, err := testDB.GetStatsRow(ctx, alice.ID, service)
	require.NoError(t, err)
	assert.InDelta(t, stats.FitScore, after.FitScore, 1e-9)
	assert.Equal(t, 1, after.ResolvesCount)
}

func TestApplyResolvedOutcomeUnknownActor(t *testing.T) {
	ctx := context.Background()
	service := "stub-" + uuid.NewString()[:8]
	w := mkWorkItem(t, service)

	// Actor never registered; a stub human row is created so FKs hold.
	actorID := uuid.NewString()
	applied, err := testDB.ApplyResolvedOutcome(ctx, model.Outcome{
		EventID:    uuid.NewString(),
		WorkItemID: w.ID,
		Type:       model.OutcomeResolved,
		ActorID:    actorID,
		Service:    service,
		OccurredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, applied)

	h, err := testDB.GetHuman(ctx, actorID)
	require.NoError(t, err)
	assert.Equal(t, actorID, h.DisplayName)
}

func TestApplyReassignedOutcome(t *testing.T) {
	ctx := context.Background()
	service := "reassign-" + uuid.NewString()[:8]
	w := mkWorkItem(t, service)
	from := mkHuman(t, "From")
	to := mkHuman(t, "To")

	applied, err := testDB.ApplyReassignedOutcome(ctx, model.Outcome{
		EventID:    uuid.NewString(),
		WorkItemID: w.ID,
		Type:       model.OutcomeReassigned,
		ActorID:    from.ID,
		Service:    service,
		OccurredAt: time.Now().UTC(),
	}, from.ID, to.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	fromStats, err := testDB.GetStatsRow(ctx, from.ID, service)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, fromStats.FitScore, 1e-9)
	assert.Equal(t, 1, fromStats.TransfersCount)

	toStats, err := testDB.GetStatsRow(ctx, to.ID, service)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, toStats.FitScore, 1e-9)
	assert.Equal(t, 0, toStats.TransfersCount)
}

func TestApplyReassignedOutcomeClampsAtZero(t *testing.T) {
	ctx := context.Background()
	service := "clamp-" + uuid.NewString()[:8]
	from := mkHuman(t, "From")

	// Repeated penalties must floor at 0.0, never go negative.
	for i := 0; i < 6; i++ {
		w := mkWorkItem(t, service)
		applied, err := testDB.ApplyReassignedOutcome(ctx, model.Outcome{
			EventID:    uuid.NewString(),
			WorkItemID: w.ID,
			Type:       model.OutcomeReassigned,
			ActorID:    from.ID,
			Service:    service,
			OccurredAt: time.Now().UTC(),
		}, from.ID, "")
		require.NoError(t, err)
		assert.True(t, applied)
	}

	stats, err := testDB.GetStatsRow(ctx, from.ID, service)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, stats.FitScore, 1e-9)
	assert.Equal(t, 6, stats.TransfersCount)
}

func TestRecordOutcomeAuditDedupe(t *testing.T) {
	ctx := context.Background()
	w := mkWorkItem(t, "audit")
	alice := mkHuman(t, "Alice")

	o := model.Outcome{
		EventID:    uuid.NewString(),
		WorkItemID: w.ID,
		Type:       model.OutcomeResolved,
		ActorID:    alice.ID,
		Service:    "audit",
		OccurredAt: time.Now().UTC(),
	}

	_, inserted, err := testDB.RecordOutcomeAudit(ctx, o)
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = testDB.RecordOutcomeAudit(ctx, o)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestApplySyncBatchIdempotent(t *testing.T) {
	ctx := context.Background()
	service := "sync-" + uuid.NewString()[:8]
	alice := mkHuman(t, "Alice")
	w1 := mkWorkItem(t, service)
	w2 := mkWorkItem(t, service)

	batch := []storage.SyncRecord{
		{HumanID: alice.ID, WorkItemID: w1.ID, Service: service, ResolvedAt: time.Now().UTC()},
		{HumanID: alice.ID, WorkItemID: w2.ID, Service: service, ResolvedAt: time.Now().UTC()},
	}

	n, err := testDB.ApplySyncBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats, err := testDB.GetStatsRow(ctx, alice.ID, service)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ResolvesCount)

	// Replaying the same batch inserts nothing and bumps nothing.
	n, err = testDB.ApplySyncBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	after, err := testDB.GetStatsRow(ctx, alice.ID, service)
	require.NoError(t, err)
	assert.Equal(t, 2, after.ResolvesCount)
	assert.InDelta(t, stats.FitScore, after.FitScore, 1e-9)
}

func TestGetServiceProfilesAndKnownHumans(t *testing.T) {
	ctx := context.Background()
	service := "profiles-" + uuid.NewString()[:8]
	alice := mkHuman(t, "Alice")
	bob := mkHuman(t, "Bob")

	for _, h := range []model.Human{alice, bob} {
		w := mkWorkItem(t, service)
		applied, err := testDB.ApplyResolvedOutcome(ctx, model.Outcome{
			EventID:    uuid.NewString(),
			WorkItemID: w.ID,
			Type:       model.OutcomeResolved,
			ActorID:    h.ID,
			Service:    service,
			OccurredAt: time.Now().UTC(),
		})
		require.NoError(t, err)
		require.True(t, applied)
	}

	profiles, err := testDB.GetServiceProfiles(ctx, service, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	for _, p := range profiles {
		assert.InDelta(t, 0.6, p.FitScore, 1e-9)
	}

	known, err := testDB.GetKnownHumansForService(ctx, service)
	require.NoError(t, err)
	ids := make([]string, 0, len(known))
	for _, h := range known {
		ids = append(ids, h.ID)
	}
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, ids)
}
