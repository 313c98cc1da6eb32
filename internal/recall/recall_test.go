package recall

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := NewRedisClient(mr.Addr(), nil)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestStoreAndRecall(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	client.Store(ctx, Record{
		ProjectID: "proj-1",
		TaskKey:   "T1",
		AgentName: "backend",
		Title:     "create user authentication endpoint",
		Outcome:   "completed",
		Summary:   "jwt middleware worked after fixing token expiry",
	})
	client.Store(ctx, Record{
		ProjectID: "proj-1",
		TaskKey:   "T2",
		AgentName: "backend",
		Title:     "database schema migration",
		Outcome:   "failed",
		Error:     "foreign key violation",
	})

	got := client.RelevantContext(ctx, "backend", "add authentication to the user API")
	assert.Contains(t, got, "create user authentication endpoint")
	assert.Contains(t, got, "completed")
	assert.NotContains(t, got, "database schema migration")
}

func TestRecallNoMatches(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	client.Store(ctx, Record{
		AgentName: "backend",
		Title:     "database schema migration",
		Outcome:   "completed",
	})

	got := client.RelevantContext(ctx, "backend", "render the settings page")
	assert.Equal(t, NoContextSummary, got)
}

func TestRecallEmptyHistory(t *testing.T) {
	client, _ := setupTestClient(t)

	got := client.RelevantContext(context.Background(), "backend", "anything at all")
	assert.Equal(t, NoContextSummary, got)
}

func TestRecallScopedByAgent(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	client.Store(ctx, Record{
		AgentName: "frontend",
		Title:     "user authentication form",
		Outcome:   "completed",
	})

	got := client.RelevantContext(ctx, "backend", "user authentication endpoint")
	assert.Equal(t, NoContextSummary, got)
}

func TestRecallSurvivesRedisOutage(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	mr.Close()

	// Store must swallow the error; RelevantContext must degrade.
	client.Store(ctx, Record{AgentName: "backend", Title: "anything"})
	got := client.RelevantContext(ctx, "backend", "anything at all")
	assert.Equal(t, NoContextSummary, got)
}

func TestStoreTrimsHistory(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	for i := 0; i < maxRecordsPerAgent+50; i++ {
		client.Store(ctx, Record{
			AgentName: "backend",
			TaskKey:   "T1",
			Title:     "task",
			Outcome:   "completed",
		})
	}

	n, err := mr.DB(0).List("forge:recall:backend")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(n), maxRecordsPerAgent)
}

func TestNopClient(t *testing.T) {
	c := NewNopClient()
	c.Store(context.Background(), Record{AgentName: "backend", Title: "x"})
	got := c.RelevantContext(context.Background(), "backend", "x")
	if !strings.Contains(got, "no similar tasks") {
		t.Errorf("NopClient context = %q", got)
	}
}
