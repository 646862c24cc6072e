package routing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/slotfabric/matchcore/internal/model"
)

// handleEnvironmentRouteRequest routes a player directly onto a world
// server outside the slot/reservation machinery (spec §4.4's environment
// route path): either the named TargetServerID, or the least-loaded server
// whose Role matches TargetEnvironmentID.
func (s *Service) handleEnvironmentRouteRequest(ctx context.Context, req model.EnvironmentRouteRequest) {
	var target *model.ServerRecord
	if req.TargetServerID != "" {
		if candidate := s.servers.Server(req.TargetServerID); candidate != nil && eligibleEnvironmentServer(candidate, req.TargetEnvironmentID) {
			target = candidate
		}
	} else {
		target = s.selectEnvironmentServer(req.TargetEnvironmentID)
	}

	if target == nil {
		if req.FailureMode == model.FailureModeKickOnFail {
			s.disconnect(ctx, req.RequestID, req.PlayerID, "", req.ProxyID, "environment-unavailable")
			return
		}
		slog.Info("environment route request dropped, no eligible server", "environment", req.TargetEnvironmentID)
		return
	}

	cmd := model.PlayerRouteCommand{
		Action:      model.RouteActionRoute,
		RequestID:   req.RequestID,
		PlayerID:    req.PlayerID,
		ProxyID:     req.ProxyID,
		ServerID:    target.ServerID,
		SlotID:      "env:" + req.TargetEnvironmentID + ":" + target.ServerID,
		SlotSuffix:  "env",
		TargetWorld: req.WorldName,
		SpawnX:      req.Spawn.X,
		SpawnY:      req.Spawn.Y,
		SpawnZ:      req.Spawn.Z,
		SpawnYaw:    req.Spawn.Yaw,
		SpawnPitch:  req.Spawn.Pitch,
		Metadata: map[string]string{
			"environment":  req.TargetEnvironmentID,
			"targetServer": target.ServerID,
			"routeType":    "environment",
			"originServer": s.originServerFor(req.PlayerID),
		},
	}
	s.broadcastRoute(ctx, cmd)
}

// originServerFor returns the serverId portion of playerID's currently
// tracked slot, if any — the server the environment route is moving the
// player away from.
func (s *Service) originServerFor(playerID string) string {
	slotID, ok := s.playerActiveSlots[playerID]
	if !ok {
		return ""
	}
	serverID, _, _ := strings.Cut(slotID, ":")
	return serverID
}

// eligibleEnvironmentServer reports whether server may host environmentID's
// environment route: its role must match, it must accept environment
// routes in its current status, and it must have headroom for one more
// player (spec §4.4).
func eligibleEnvironmentServer(server *model.ServerRecord, environmentID string) bool {
	return server.Role == environmentID &&
		server.Status.AcceptsEnvironmentRoutes() &&
		server.CurrentPlayerCount < server.MaxCapacity
}

// selectEnvironmentServer returns the least-loaded server whose Role equals
// environmentID and that currently accepts environment routes.
func (s *Service) selectEnvironmentServer(environmentID string) *model.ServerRecord {
	var best *model.ServerRecord
	s.servers.ForEachServer(func(server *model.ServerRecord) {
		if !eligibleEnvironmentServer(server, environmentID) {
			return
		}
		if best == nil || server.LoadRatio() < best.LoadRatio() {
			best = server
		}
	})
	return best
}
