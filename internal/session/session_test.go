package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotfabric/matchcore/internal/model"
	"github.com/slotfabric/matchcore/internal/testutil"
)

func TestRepository_UpsertAndLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	pool := testutil.SetupTestDB(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	rec := &model.SessionRecord{
		SessionID:             "sess-1",
		PlayerID:              "player-1",
		ServerID:              "arena1",
		LastSlotID:            "arena1:1",
		ClientProtocolVersion: 5,
		Segments: []model.EnvironmentSegment{
			{Environment: "lobby", ServerID: "lobby1", StartedAt: time.Now().Add(-time.Hour), EndedAt: time.Now().Add(-time.Minute)},
			{Environment: "arena", ServerID: "arena1", StartedAt: time.Now()},
		},
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	loaded, err := repo.LoadByID(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "player-1", loaded.PlayerID)
	assert.Equal(t, "arena1:1", loaded.LastSlotID)
	require.Len(t, loaded.Segments, 2)
	assert.Equal(t, "lobby", loaded.Segments[0].Environment)
	assert.Equal(t, "arena", loaded.Segments[1].Environment)

	active, err := repo.LoadActiveByPlayer(ctx, "player-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "sess-1", active.SessionID)
}

func TestRepository_Upsert_ReplacesSegments(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	pool := testutil.SetupTestDB(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	rec := &model.SessionRecord{SessionID: "sess-2", PlayerID: "player-2", Segments: []model.EnvironmentSegment{
		{Environment: "lobby", ServerID: "lobby1", StartedAt: time.Now()},
	}}
	require.NoError(t, repo.Upsert(ctx, rec))

	rec.Segments = []model.EnvironmentSegment{
		{Environment: "arena", ServerID: "arena1", StartedAt: time.Now()},
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	loaded, err := repo.LoadByID(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, loaded.Segments, 1)
	assert.Equal(t, "arena", loaded.Segments[0].Environment)
}

func TestRepository_LoadByID_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	pool := testutil.SetupTestDB(t)
	repo := NewRepository(pool)

	rec, err := repo.LoadByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRepository_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	pool := testutil.SetupTestDB(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &model.SessionRecord{SessionID: "sess-3", PlayerID: "player-3"}))
	require.NoError(t, repo.Delete(ctx, "sess-3"))

	rec, err := repo.LoadByID(ctx, "sess-3")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
