package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mclp/internal/model"
)

func TestMemoryRunLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	run, err := m.CreateRun(ctx, model.Run{TenantID: "t1", Params: model.RunParams{NumFacility: 2}})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunQueued, run.Status)
	assert.False(t, run.CreatedAt.IsZero())

	_, err = m.GetRun(ctx, "t2", run.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC()
	run.Status = model.RunCompleted
	run.FinishedAt = &now
	run.Result = &model.RunResult{PercentDemandCoverage: 75}
	require.NoError(t, m.UpdateRun(ctx, run))

	got, err := m.GetRun(ctx, "t1", run.ID)
	require.NoError(t, err)
	assert.True(t, got.Done())
	assert.Equal(t, 75.0, got.Result.PercentDemandCoverage)

	assert.ErrorIs(t, m.UpdateRun(ctx, model.Run{ID: "missing", TenantID: "t1"}), ErrNotFound)
}

func TestMemoryListRunsPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for i := 0; i < 5; i++ {
		r, err := m.CreateRun(ctx, model.Run{TenantID: "t1"})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	page, next, err := m.ListRuns(ctx, "t1", "", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], next)

	page, next, err = m.ListRuns(ctx, "t1", "", next, 10)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.Empty(t, next)

	page, _, err = m.ListRuns(ctx, "t1", model.RunFailed, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemoryCoverageAndSolverMetrics(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	run, _ := m.CreateRun(ctx, model.Run{TenantID: "t1"})

	_, err := m.GetCoverage(ctx, "t1", run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, m.SaveCoverage(ctx, "t1", run.ID, []byte(`{"version":"1"}`)))
	doc, err := m.GetCoverage(ctx, "t1", run.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1"}`, string(doc))
	assert.ErrorIs(t, m.SaveCoverage(ctx, "t2", run.ID, nil), ErrNotFound)

	require.NoError(t, m.SaveSolverMetrics(ctx, "t1", run.ID, "simplex", map[string]any{"nodes": 3}))
	require.NoError(t, m.SaveSolverMetrics(ctx, "t1", run.ID, "greedy", map[string]any{"swaps": 1}))
	require.NoError(t, m.SaveSolverMetrics(ctx, "t1", run.ID, "simplex", map[string]any{"nodes": 7}))
	items, err := m.ListSolverMetrics(ctx, "t1", run.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "greedy", items[0]["solver"])
	assert.Equal(t, 7, items[1]["nodes"])
}

func TestMemoryWebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	sub, err := m.CreateSubscription(ctx, model.SubscriptionRequest{TenantID: "t1", URL: "http://x", Events: []string{"*"}})
	require.NoError(t, err)
	subs, err := m.GetSubscriptionsForEvent(ctx, "t1", model.EventRunCompleted)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub.ID, subs[0].ID)

	id, err := m.EnqueueWebhook(ctx, "t1", sub.ID, model.EventRunCompleted, "http://x", "", []byte(`{}`))
	require.NoError(t, err)
	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	next := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &next, "boom", 500, 3))
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	assert.Empty(t, due)

	require.NoError(t, m.FailWebhookDelivery(ctx, id, "boom", 500, 3))
	dlq, _, err := m.ListWebhookDLQ(ctx, "t1", "", 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)

	require.NoError(t, m.RequeueWebhookDLQ(ctx, "t1", id))
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	assert.Len(t, due, 1)
	assert.ErrorIs(t, m.RequeueWebhookDLQ(ctx, "t1", id), ErrNotFound)
}
