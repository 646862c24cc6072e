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

// TestPartyReservation_SeatsOnTargetServerAndDispatchesBothMembers exercises
// the happy path of spec §4.4's party flow: a reservation naming a
// TargetServerID is seated immediately, and both members' PlayerSlotRequest
// messages (one arriving before the reservation, one after) get routed to
// the same slot with their party tokens intact.
func TestPartyReservation_SeatsOnTargetServerAndDispatchesBothMembers(t *testing.T) {
	svc, servers, proxies, b := setupService(t, testConfig())
	registerServerWithSlot(t, servers, "temp-1", 10)
	proxies.Announce(model.ProxyAnnounceMessage{ProxyID: "proxy-1"})
	unsub := fakeBackendReservation(b, "arena1", "tok-party")
	defer unsub()

	routed := make(chan model.PlayerRouteCommand, 2)
	b.Subscribe(bus.TargetedChannel(ChanRouteCommand, "proxy-1"), func(ctx context.Context, env bus.Envelope) {
		var cmd model.PlayerRouteCommand
		_ = env.Decode(&cmd)
		routed <- cmd
	})

	// player-a submits its slot request before the party reservation exists
	// — it should park until handlePartyReservationCreated arrives.
	require.NoError(t, b.Broadcast(context.Background(), "proxy-1", ChanPlayerRequest, "PlayerSlotRequest", model.PlayerSlotRequest{
		RequestID: "req-a", PlayerID: "player-a", ProxyID: "proxy-1", FamilyID: "duel",
		Metadata: map[string]string{model.MetaPartyReservationID: "res-1", model.MetaPartyTokenID: "tok-a"},
	}))

	require.NoError(t, b.Broadcast(context.Background(), "partyd", ChanPartyReservationCreated, "PartyReservationCreatedMessage", model.PartyReservationCreatedMessage{
		Reservation: model.PartyReservationSnapshot{
			ReservationID:  "res-1",
			PartyID:        "party-1",
			TargetServerID: "arena1",
			Tokens:         map[string]string{"player-a": "tok-a", "player-b": "tok-b"},
		},
		FamilyID: "duel",
	}))

	// player-b submits after the reservation already exists — dispatched
	// immediately.
	require.NoError(t, b.Broadcast(context.Background(), "proxy-1", ChanPlayerRequest, "PlayerSlotRequest", model.PlayerSlotRequest{
		RequestID: "req-b", PlayerID: "player-b", ProxyID: "proxy-1", FamilyID: "duel",
		Metadata: map[string]string{model.MetaPartyReservationID: "res-1", model.MetaPartyTokenID: "tok-b"},
	}))

	seen := map[string]model.PlayerRouteCommand{}
	for i := 0; i < 2; i++ {
		select {
		case cmd := <-routed:
			seen[cmd.RequestID] = cmd
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for route command %d", i)
		}
	}
	require.Contains(t, seen, "req-a")
	require.Contains(t, seen, "req-b")
	assert.Equal(t, model.RouteActionRoute, seen["req-a"].Action)
	assert.Equal(t, "arena1:1", seen["req-a"].SlotID)
	assert.Equal(t, model.RouteActionRoute, seen["req-b"].Action)
	assert.Equal(t, "arena1:1", seen["req-b"].SlotID)
	assert.Equal(t, "tok-a", seen["req-a"].Metadata["reservationToken"])
	assert.Equal(t, "tok-b", seen["req-b"].Metadata["reservationToken"])

	_ = svc
}

// TestPartyReservation_TokenMismatchDisconnects verifies a party member
// presenting the wrong token for its reservation gets disconnected rather
// than seated (spec §4.4's anti-spoofing rule).
func TestPartyReservation_TokenMismatchDisconnects(t *testing.T) {
	_, servers, proxies, b := setupService(t, testConfig())
	registerServerWithSlot(t, servers, "temp-1", 10)
	proxies.Announce(model.ProxyAnnounceMessage{ProxyID: "proxy-1"})
	unsub := fakeBackendReservation(b, "arena1", "tok-party")
	defer unsub()

	disconnected := make(chan model.PlayerRouteCommand, 1)
	b.Subscribe(bus.TargetedChannel(ChanRouteCommand, "proxy-1"), func(ctx context.Context, env bus.Envelope) {
		var cmd model.PlayerRouteCommand
		_ = env.Decode(&cmd)
		disconnected <- cmd
	})

	require.NoError(t, b.Broadcast(context.Background(), "partyd", ChanPartyReservationCreated, "PartyReservationCreatedMessage", model.PartyReservationCreatedMessage{
		Reservation: model.PartyReservationSnapshot{
			ReservationID:  "res-2",
			PartyID:        "party-2",
			TargetServerID: "arena1",
			Tokens:         map[string]string{"player-c": "expected-token"},
		},
		FamilyID: "duel",
	}))

	require.NoError(t, b.Broadcast(context.Background(), "proxy-1", ChanPlayerRequest, "PlayerSlotRequest", model.PlayerSlotRequest{
		RequestID: "req-c", PlayerID: "player-c", ProxyID: "proxy-1", FamilyID: "duel",
		Metadata: map[string]string{model.MetaPartyReservationID: "res-2", model.MetaPartyTokenID: "wrong-token"},
	}))

	select {
	case cmd := <-disconnected:
		assert.Equal(t, model.RouteActionDisconnect, cmd.Action)
		assert.Equal(t, "party-token-mismatch", cmd.Metadata["reason"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
}

// TestPartyReservation_QueuesWhenNoSlotFits covers the no-target,
// no-eligible-slot branch: the reservation parks on pendingPartyReservations
// and a provision is requested for the family.
func TestPartyReservation_QueuesWhenNoSlotFits(t *testing.T) {
	svc, _, proxies, b := setupService(t, testConfig())
	proxies.Announce(model.ProxyAnnounceMessage{ProxyID: "proxy-1"})

	require.NoError(t, b.Broadcast(context.Background(), "partyd", ChanPartyReservationCreated, "PartyReservationCreatedMessage", model.PartyReservationCreatedMessage{
		Reservation: model.PartyReservationSnapshot{
			ReservationID: "res-3",
			PartyID:       "party-3",
			Tokens:        map[string]string{"player-d": "tok-d", "player-e": "tok-e"},
		},
		FamilyID: "duel",
	}))

	require.Eventually(t, func() bool {
		done := make(chan bool, 1)
		svc.enqueue(func() {
			q, ok := svc.pendingPartyReservations["duel"]
			done <- ok && q.Len() == 1
		})
		return <-done
	}, time.Second, 10*time.Millisecond)
}

// TestPartyReservation_ReleasesOccupancyOnClaimCompletion verifies that once
// every party member has resolved (claimed or failed) via
// PartyReservationClaimedMessage, the allocation is released and its
// pendingOccupancy hold is returned.
func TestPartyReservation_ReleasesOccupancyOnClaimCompletion(t *testing.T) {
	svc, servers, proxies, b := setupService(t, testConfig())
	registerServerWithSlot(t, servers, "temp-1", 10)
	proxies.Announce(model.ProxyAnnounceMessage{ProxyID: "proxy-1"})
	unsub := fakeBackendReservation(b, "arena1", "tok-party")
	defer unsub()

	require.NoError(t, b.Broadcast(context.Background(), "partyd", ChanPartyReservationCreated, "PartyReservationCreatedMessage", model.PartyReservationCreatedMessage{
		Reservation: model.PartyReservationSnapshot{
			ReservationID:  "res-4",
			PartyID:        "party-4",
			TargetServerID: "arena1",
			Tokens:         map[string]string{"player-f": "tok-f"},
		},
		FamilyID: "duel",
	}))

	require.Eventually(t, func() bool {
		done := make(chan bool, 1)
		svc.enqueue(func() {
			_, ok := svc.activePartyReservations["res-4"]
			done <- ok
		})
		return <-done
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Broadcast(context.Background(), "arena1", ChanPartyReservationClaimed, "PartyReservationClaimedMessage", model.PartyReservationClaimedMessage{
		ReservationID: "res-4", PlayerID: "player-f", Success: true,
	}))

	require.Eventually(t, func() bool {
		done := make(chan bool, 1)
		svc.enqueue(func() {
			_, stillActive := svc.activePartyReservations["res-4"]
			done <- !stillActive && svc.pendingOccupancy["arena1:1"] == 0
		})
		return <-done
	}, time.Second, 10*time.Millisecond)
}
