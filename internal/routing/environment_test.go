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

func TestEnvironmentRoute_TargetServerID(t *testing.T) {
	_, servers, proxies, b := setupService(t, testConfig())
	proxies.Announce(model.ProxyAnnounceMessage{ProxyID: "proxy-1"})

	res := servers.Register(model.ServerRegistrationRequest{
		TempID: "temp-lobby-1", Type: "lobby", Role: "lobby", Address: "10.0.0.2", Port: 8000, MaxCapacity: 50,
	})
	require.True(t, res.Success)
	servers.Server(res.AssignedServerID).Status = model.ServerRunning

	routed := make(chan model.PlayerRouteCommand, 1)
	b.Subscribe(bus.TargetedChannel(ChanRouteCommand, "proxy-1"), func(ctx context.Context, env bus.Envelope) {
		var cmd model.PlayerRouteCommand
		_ = env.Decode(&cmd)
		routed <- cmd
	})

	require.NoError(t, b.Broadcast(context.Background(), "proxy-1", ChanEnvironmentRouteRequest, "EnvironmentRouteRequest", model.EnvironmentRouteRequest{
		RequestID: "env-1", PlayerID: "player-1", ProxyID: "proxy-1", TargetServerID: "lobby1", TargetEnvironmentID: "lobby",
	}))

	select {
	case cmd := <-routed:
		assert.Equal(t, model.RouteActionRoute, cmd.Action)
		assert.Equal(t, "lobby1", cmd.ServerID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for environment route command")
	}
}

func TestEnvironmentRoute_SelectsLeastLoadedByRole(t *testing.T) {
	_, servers, proxies, b := setupService(t, testConfig())
	proxies.Announce(model.ProxyAnnounceMessage{ProxyID: "proxy-1"})

	busy := servers.Register(model.ServerRegistrationRequest{
		TempID: "world-1", Type: "world", Role: "overworld", Address: "10.0.0.3", Port: 8001, MaxCapacity: 100,
	})
	require.True(t, busy.Success)
	busyRec := servers.Server(busy.AssignedServerID)
	busyRec.Status = model.ServerRunning
	busyRec.CurrentPlayerCount = 90

	quiet := servers.Register(model.ServerRegistrationRequest{
		TempID: "world-2", Type: "world", Role: "overworld", Address: "10.0.0.4", Port: 8002, MaxCapacity: 100,
	})
	require.True(t, quiet.Success)
	quietRec := servers.Server(quiet.AssignedServerID)
	quietRec.Status = model.ServerRunning
	quietRec.CurrentPlayerCount = 5

	routed := make(chan model.PlayerRouteCommand, 1)
	b.Subscribe(bus.TargetedChannel(ChanRouteCommand, "proxy-1"), func(ctx context.Context, env bus.Envelope) {
		var cmd model.PlayerRouteCommand
		_ = env.Decode(&cmd)
		routed <- cmd
	})

	require.NoError(t, b.Broadcast(context.Background(), "proxy-1", ChanEnvironmentRouteRequest, "EnvironmentRouteRequest", model.EnvironmentRouteRequest{
		RequestID: "env-2", PlayerID: "player-2", ProxyID: "proxy-1", TargetEnvironmentID: "overworld",
	}))

	select {
	case cmd := <-routed:
		assert.Equal(t, quiet.AssignedServerID, cmd.ServerID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for environment route command")
	}
}

func TestEnvironmentRoute_NoEligibleServer_KickOnFail(t *testing.T) {
	_, _, proxies, b := setupService(t, testConfig())
	proxies.Announce(model.ProxyAnnounceMessage{ProxyID: "proxy-1"})

	disconnected := make(chan model.PlayerRouteCommand, 1)
	b.Subscribe(bus.TargetedChannel(ChanRouteCommand, "proxy-1"), func(ctx context.Context, env bus.Envelope) {
		var cmd model.PlayerRouteCommand
		_ = env.Decode(&cmd)
		disconnected <- cmd
	})

	require.NoError(t, b.Broadcast(context.Background(), "proxy-1", ChanEnvironmentRouteRequest, "EnvironmentRouteRequest", model.EnvironmentRouteRequest{
		RequestID: "env-3", PlayerID: "player-3", ProxyID: "proxy-1", TargetEnvironmentID: "nether",
		FailureMode: model.FailureModeKickOnFail,
	}))

	select {
	case cmd := <-disconnected:
		assert.Equal(t, model.RouteActionDisconnect, cmd.Action)
		assert.Equal(t, "environment-unavailable", cmd.Metadata["reason"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
}
