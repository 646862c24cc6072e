package routing

import (
	"context"
	"log/slog"

	"github.com/slotfabric/matchcore/internal/bus"
	"github.com/slotfabric/matchcore/internal/model"
)

// Each on* method is a bus.Handler: it decodes the envelope payload and
// enqueues the actual state transition onto the routing worker. Decode
// failures are logged and dropped (spec §7: invalid inbound messages are
// logged and dropped, never crash the service).

func (s *Service) onPlayerRequest(ctx context.Context, env bus.Envelope) {
	var msg model.PlayerSlotRequest
	if err := env.Decode(&msg); err != nil {
		slog.Error("decoding PlayerSlotRequest", "error", err)
		return
	}
	if msg.RequestID == "" || msg.PlayerID == "" || msg.FamilyID == "" {
		slog.Warn("dropping invalid PlayerSlotRequest", "requestId", msg.RequestID)
		return
	}
	s.enqueue(func() { s.handlePlayerSlotRequest(ctx, msg) })
}

func (s *Service) onSlotStatus(ctx context.Context, env bus.Envelope) {
	var msg model.SlotStatusUpdateMessage
	if err := env.Decode(&msg); err != nil {
		slog.Error("decoding SlotStatusUpdateMessage", "error", err)
		return
	}
	if msg.ServerID == "" || msg.SlotSuffix == "" {
		slog.Warn("dropping invalid SlotStatusUpdateMessage", "serverId", msg.ServerID)
		return
	}
	s.enqueue(func() { s.handleSlotStatusUpdate(ctx, msg) })
}

func (s *Service) onRouteAck(ctx context.Context, env bus.Envelope) {
	var msg model.PlayerRouteAck
	if err := env.Decode(&msg); err != nil {
		slog.Error("decoding PlayerRouteAck", "error", err)
		return
	}
	if msg.RequestID == "" || !msg.Valid() {
		slog.Warn("dropping invalid PlayerRouteAck", "requestId", msg.RequestID)
		return
	}
	s.enqueue(func() { s.handleRouteAck(ctx, msg) })
}

func (s *Service) onPartyReservationCreated(ctx context.Context, env bus.Envelope) {
	var msg model.PartyReservationCreatedMessage
	if err := env.Decode(&msg); err != nil {
		slog.Error("decoding PartyReservationCreatedMessage", "error", err)
		return
	}
	if msg.Reservation.ReservationID == "" || msg.FamilyID == "" {
		slog.Warn("dropping invalid PartyReservationCreatedMessage")
		return
	}
	s.enqueue(func() { s.handlePartyReservationCreated(ctx, msg) })
}

func (s *Service) onPartyReservationClaimed(ctx context.Context, env bus.Envelope) {
	var msg model.PartyReservationClaimedMessage
	if err := env.Decode(&msg); err != nil {
		slog.Error("decoding PartyReservationClaimedMessage", "error", err)
		return
	}
	if msg.ReservationID == "" || msg.PlayerID == "" {
		slog.Warn("dropping invalid PartyReservationClaimedMessage")
		return
	}
	s.enqueue(func() { s.handlePartyReservationClaimed(msg) })
}

func (s *Service) onMatchRosterCreated(ctx context.Context, env bus.Envelope) {
	var msg model.MatchRosterCreatedMessage
	if err := env.Decode(&msg); err != nil {
		slog.Error("decoding MatchRosterCreatedMessage", "error", err)
		return
	}
	if msg.SlotID == "" {
		slog.Warn("dropping invalid MatchRosterCreatedMessage")
		return
	}
	s.enqueue(func() { s.handleMatchRosterCreated(msg) })
}

func (s *Service) onMatchRosterEnded(ctx context.Context, env bus.Envelope) {
	var msg model.MatchRosterEndedMessage
	if err := env.Decode(&msg); err != nil {
		slog.Error("decoding MatchRosterEndedMessage", "error", err)
		return
	}
	if msg.SlotID == "" {
		slog.Warn("dropping invalid MatchRosterEndedMessage")
		return
	}
	s.enqueue(func() { s.handleMatchRosterEnded(msg) })
}

func (s *Service) onEnvironmentRouteRequest(ctx context.Context, env bus.Envelope) {
	var msg model.EnvironmentRouteRequest
	if err := env.Decode(&msg); err != nil {
		slog.Error("decoding EnvironmentRouteRequest", "error", err)
		return
	}
	if msg.RequestID == "" || msg.PlayerID == "" || msg.TargetEnvironmentID == "" {
		slog.Warn("dropping invalid EnvironmentRouteRequest")
		return
	}
	s.enqueue(func() { s.handleEnvironmentRouteRequest(ctx, msg) })
}
