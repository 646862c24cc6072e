package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotfabric/matchcore/internal/bus"
	"github.com/slotfabric/matchcore/internal/model"
)

// TestSlotGoesUnavailable_RequeuesInFlightRoute covers spec §4.4's
// requeue-on-slot-loss rule: a route already dispatched to a slot that then
// faults gets pulled back into its family's pending queue rather than left
// dangling in inFlightRoutes.
func TestSlotGoesUnavailable_RequeuesInFlightRoute(t *testing.T) {
	svc, servers, proxies, b := setupService(t, testConfig())
	registerServerWithSlot(t, servers, "temp-1", 10)
	proxies.Announce(model.ProxyAnnounceMessage{ProxyID: "proxy-1"})
	unsub := fakeBackendReservation(b, "arena1", "tok-1")
	defer unsub()

	routed := make(chan struct{}, 1)
	b.Subscribe(bus.TargetedChannel(ChanRouteCommand, "proxy-1"), func(ctx context.Context, env bus.Envelope) {
		routed <- struct{}{}
	})

	require.NoError(t, b.Broadcast(context.Background(), "proxy-1", ChanPlayerRequest, "PlayerSlotRequest", model.PlayerSlotRequest{
		RequestID: "req-1", PlayerID: "player-1", ProxyID: "proxy-1", FamilyID: "duel",
	}))
	select {
	case <-routed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial route command")
	}

	require.Eventually(t, func() bool {
		done := make(chan bool, 1)
		svc.enqueue(func() {
			_, inFlight := svc.inFlightRoutes["req-1"]
			done <- inFlight
		})
		return <-done
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Broadcast(context.Background(), "arena1", ChanSlotStatus, "SlotStatusUpdateMessage", model.SlotStatusUpdateMessage{
		ServerID: "arena1", SlotSuffix: "1", GameType: "duel", Status: model.SlotFaulted,
	}))

	require.Eventually(t, func() bool {
		done := make(chan bool, 1)
		svc.enqueue(func() {
			_, stillInFlight := svc.inFlightRoutes["req-1"]
			q, queued := svc.pendingQueues["duel"]
			done <- !stillInFlight && queued && q.Len() == 1
		})
		return <-done
	}, time.Second, 10*time.Millisecond)
}

// TestSlotBecomesAvailable_DrainsQueueFIFO confirms a queued request is
// served as soon as a matching slot reports AVAILABLE.
func TestSlotBecomesAvailable_DrainsQueueFIFO(t *testing.T) {
	svc, servers, proxies, b := setupService(t, testConfig())
	proxies.Announce(model.ProxyAnnounceMessage{ProxyID: "proxy-1"})
	unsub := fakeBackendReservation(b, "arena1", "tok-1")
	defer unsub()

	routed := make(chan model.PlayerRouteCommand, 1)
	b.Subscribe(bus.TargetedChannel(ChanRouteCommand, "proxy-1"), func(ctx context.Context, env bus.Envelope) {
		var cmd model.PlayerRouteCommand
		_ = env.Decode(&cmd)
		routed <- cmd
	})

	require.NoError(t, b.Broadcast(context.Background(), "proxy-1", ChanPlayerRequest, "PlayerSlotRequest", model.PlayerSlotRequest{
		RequestID: "req-q1", PlayerID: "player-q1", ProxyID: "proxy-1", FamilyID: "duel",
	}))

	require.Eventually(t, func() bool {
		done := make(chan bool, 1)
		svc.enqueue(func() {
			q, ok := svc.pendingQueues["duel"]
			done <- ok && q.Len() == 1
		})
		return <-done
	}, time.Second, 10*time.Millisecond)

	registerServerWithSlot(t, servers, "temp-1", 10)
	require.NoError(t, b.Broadcast(context.Background(), "arena1", ChanSlotStatus, "SlotStatusUpdateMessage", model.SlotStatusUpdateMessage{
		ServerID: "arena1", SlotSuffix: "1", GameType: "duel", Status: model.SlotAvailable, MaxPlayers: 10,
		Metadata: map[string]string{"family": "duel"},
	}))

	select {
	case cmd := <-routed:
		assert.Equal(t, "req-q1", cmd.RequestID)
		assert.Equal(t, "arena1:1", cmd.SlotID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued request to drain")
	}

	_ = svc
}
