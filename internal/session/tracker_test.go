package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotfabric/matchcore/internal/bus"
	"github.com/slotfabric/matchcore/internal/model"
	"github.com/slotfabric/matchcore/internal/routing"
	"github.com/slotfabric/matchcore/internal/testutil"
)

func TestTracker_PersistsOnSuccessfulRouteAck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	pool := testutil.SetupTestDB(t)
	repo := NewRepository(pool)
	b := bus.NewLocal()

	tracker := NewTracker(b, repo)
	tracker.Start()
	defer tracker.Stop()

	require.NoError(t, b.Broadcast(context.Background(), "routingd", routing.ChanRouteAck, "PlayerRouteAck", model.PlayerRouteAck{
		RequestID: "req-1", PlayerID: "player-1", ServerID: "arena1", SlotID: "arena1:1", Status: model.RouteAckSuccess,
	}))

	// the tracker's handler runs synchronously on Broadcast for bus.Local,
	// but the Postgres write it triggers is a real round trip — give it a
	// moment in case that ever changes to an async dispatch.
	require.Eventually(t, func() bool {
		rec, err := repo.LoadActiveByPlayer(context.Background(), "player-1")
		return err == nil && rec != nil
	}, time.Second, 10*time.Millisecond)

	rec, err := repo.LoadActiveByPlayer(context.Background(), "player-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "arena1", rec.ServerID)
	assert.Equal(t, "arena1:1", rec.LastSlotID)
	require.Len(t, rec.Segments, 1)
}

func TestTracker_IgnoresFailedAck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers-backed test in short mode")
	}

	pool := testutil.SetupTestDB(t)
	repo := NewRepository(pool)
	b := bus.NewLocal()

	tracker := NewTracker(b, repo)
	tracker.Start()
	defer tracker.Stop()

	require.NoError(t, b.Broadcast(context.Background(), "routingd", routing.ChanRouteAck, "PlayerRouteAck", model.PlayerRouteAck{
		RequestID: "req-2", PlayerID: "player-2", Status: model.RouteAckFailed, Reason: "backend-offline",
	}))

	rec, err := repo.LoadActiveByPlayer(context.Background(), "player-2")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
