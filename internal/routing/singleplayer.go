package routing

import (
	"context"
	"strconv"
	"time"

	"github.com/slotfabric/matchcore/internal/model"
)

// handlePlayerSlotRequest is the entry point of the single-player routing
// state machine (spec §4.4).
func (s *Service) handlePlayerSlotRequest(ctx context.Context, req model.PlayerSlotRequest) {
	if req.Metadata[model.MetaPartyReservationID] != "" {
		s.handlePartyPlayerRequest(ctx, req)
		return
	}

	if _, dup := s.activeRequestIDs[req.RequestID]; dup {
		return
	}

	if !s.proxies.Known(req.ProxyID) {
		s.disconnect(ctx, req.RequestID, req.PlayerID, req.PlayerName, req.ProxyID, "unknown-proxy")
		return
	}

	blockedSlotID := req.Metadata[model.MetaCurrentSlotID]
	if blockedSlotID == "" {
		blockedSlotID = s.playerActiveSlots[req.PlayerID]
	}
	variantID := firstNonEmpty(req.Metadata[model.MetaVariant], req.Metadata[model.MetaFamilyVariant], req.Metadata[model.MetaGameType])

	now := time.Now()
	rctx := &model.PlayerRequestContext{
		Request:        req,
		CreatedAt:      now,
		LastEnqueuedAt: now,
		BlockedSlotID:  blockedSlotID,
		VariantID:      variantID,
	}
	s.activeRequestIDs[req.RequestID] = struct{}{}

	slot := s.findAvailableSlot(req.FamilyID, variantID, blockedSlotID, req.PlayerID)
	if slot != nil {
		s.reserve(ctx, rctx, slot)
		return
	}

	s.enqueueContext(req.FamilyID, rctx)
	s.triggerProvisionIfNeeded(ctx, req.FamilyID, req.Metadata)
}

// reserve sends the reservation RPC to the slot's backend and continues to
// dispatch on success or retries on failure (spec §4.4's RESERVE step).
func (s *Service) reserve(ctx context.Context, rctx *model.PlayerRequestContext, slot *model.SlotRecord) {
	req := rctx.Request
	go func() {
		resp, err := s.bus.Request(ctx, s.senderID, slot.ServerID, ChanReservationRequest, "PlayerReservationRequest",
			model.PlayerReservationRequest{
				RequestID:  req.RequestID,
				PlayerID:   req.PlayerID,
				PlayerName: req.PlayerName,
				ProxyID:    req.ProxyID,
				ServerID:   slot.ServerID,
				SlotID:     slot.SlotID,
				Metadata:   req.Metadata,
			}, s.cfg.ReservationTimeout)

		s.enqueue(func() {
			if err != nil {
				s.retryRequest(ctx, rctx, "reservation-failed")
				return
			}
			var payload model.PlayerReservationResponse
			if decodeErr := resp.Decode(&payload); decodeErr != nil {
				s.retryRequest(ctx, rctx, "reservation-failed")
				return
			}
			if !payload.Accepted {
				reason := payload.Reason
				if reason == "" {
					reason = "reservation-rejected"
				}
				s.retryRequest(ctx, rctx, reason)
				return
			}
			if payload.ReservationToken == "" {
				s.retryRequest(ctx, rctx, "reservation-missing-token")
				return
			}
			s.dispatch(ctx, rctx, slot, payload.ReservationToken, false, nil)
		})
	}()
}

// dispatch builds and broadcasts the PlayerRouteCommand, reserving
// pendingOccupancy when it wasn't already held by a party allocation
// (spec §4.4's DISPATCH step). partyMeta carries team.index/partyId for a
// party member's dispatch; pass nil for a single-player dispatch.
func (s *Service) dispatch(ctx context.Context, rctx *model.PlayerRequestContext, slot *model.SlotRecord, token string, preReserved bool, partyMeta map[string]string) {
	req := rctx.Request

	if roster := s.matchRosters[slot.SlotID]; roster != nil && !roster.Allows(req.PlayerID) {
		s.disconnect(ctx, req.RequestID, req.PlayerID, req.PlayerName, req.ProxyID, "match-roster-locked")
		delete(s.activeRequestIDs, req.RequestID)
		return
	}

	metadata := mergeMetadata(slot.Metadata, req.Metadata, partyMeta)
	metadata["family"] = slot.Family()
	metadata["reservationToken"] = token

	cmd := model.PlayerRouteCommand{
		Action:      model.RouteActionRoute,
		RequestID:   req.RequestID,
		PlayerID:    req.PlayerID,
		PlayerName:  req.PlayerName,
		ProxyID:     req.ProxyID,
		ServerID:    slot.ServerID,
		SlotID:      slot.SlotID,
		SlotSuffix:  slot.SlotSuffix,
		TargetWorld: slot.Metadata["targetWorld"],
		SpawnX:      parseFloat(slot.Metadata["spawnX"]),
		SpawnY:      parseFloat(slot.Metadata["spawnY"]),
		SpawnZ:      parseFloat(slot.Metadata["spawnZ"]),
		SpawnYaw:    parseFloat(slot.Metadata["spawnYaw"]),
		SpawnPitch:  parseFloat(slot.Metadata["spawnPitch"]),
		Metadata:    metadata,
	}

	if s.handoffs != nil {
		s.handoffs.Put(model.HandoffRecord{
			PlayerID:         req.PlayerID,
			ServerID:         slot.ServerID,
			SlotID:           slot.SlotID,
			ReservationToken: token,
			Metadata:         metadata,
			IssuedAt:         time.Now(),
		})
	}

	s.broadcastRoute(ctx, cmd)

	if !preReserved {
		s.pendingOccupancy[slot.SlotID]++
	}

	timer := time.AfterFunc(s.cfg.RouteTimeout, func() {
		s.enqueue(func() { s.handleRouteTimeout(ctx, req.RequestID) })
	})
	s.inFlightRoutes[req.RequestID] = &model.InFlightRoute{
		Context:     rctx,
		SlotID:      slot.SlotID,
		Timer:       timer,
		PreReserved: preReserved,
	}
	s.playerActiveSlots[req.PlayerID] = slot.SlotID
}

// broadcastRoute publishes cmd to both the proxy's and the backend's
// targeted channels (spec §4.1: both receive the same event).
func (s *Service) broadcastRoute(ctx context.Context, cmd model.PlayerRouteCommand) {
	_ = s.bus.Send(ctx, s.senderID, cmd.ProxyID, ChanRouteCommand, "PlayerRouteCommand", cmd)
	if cmd.ServerID != "" {
		_ = s.bus.Send(ctx, s.senderID, cmd.ServerID, ChanServerPlayerRoute, "PlayerRouteCommand", cmd)
	}
}

// disconnect sends a DISCONNECT PlayerRouteCommand to the proxy only —
// there is no backend to pre-stage a handoff for.
func (s *Service) disconnect(ctx context.Context, requestID, playerID, playerName, proxyID, reason string) {
	cmd := model.PlayerRouteCommand{
		Action:     model.RouteActionDisconnect,
		RequestID:  requestID,
		PlayerID:   playerID,
		PlayerName: playerName,
		ProxyID:    proxyID,
		Metadata:   map[string]string{"reason": reason},
	}
	_ = s.bus.Send(ctx, s.senderID, proxyID, ChanRouteCommand, "PlayerRouteCommand", cmd)
}

// handleRouteTimeout fires when ROUTE_TIMEOUT elapses without an ack.
func (s *Service) handleRouteTimeout(ctx context.Context, requestID string) {
	route, ok := s.inFlightRoutes[requestID]
	if !ok {
		return // already acked
	}
	delete(s.inFlightRoutes, requestID)
	if !route.PreReserved {
		s.pendingOccupancy[route.SlotID]--
	}
	if partyID := route.Context.Request.Metadata[model.MetaPartyReservationID]; partyID != "" {
		req := route.Context.Request
		s.onPartyMemberAck(partyID, req.PlayerID, model.PlayerRouteAck{
			RequestID: requestID,
			Status:    model.RouteAckFailed,
			Reason:    "route-transient",
		})
		s.disconnect(ctx, requestID, req.PlayerID, req.PlayerName, req.ProxyID, "route-transient")
		delete(s.activeRequestIDs, requestID)
		return
	}
	s.retryRequest(ctx, route.Context, "route-transient")
}

// handleRouteAck processes a player.route.ack (spec §4.4).
func (s *Service) handleRouteAck(ctx context.Context, ack model.PlayerRouteAck) {
	route, ok := s.inFlightRoutes[ack.RequestID]
	if !ok {
		return
	}
	delete(s.inFlightRoutes, ack.RequestID)
	route.Timer.Stop()
	if !route.PreReserved {
		s.pendingOccupancy[route.SlotID]--
	}

	req := route.Context.Request
	if partyID := req.Metadata[model.MetaPartyReservationID]; partyID != "" {
		s.onPartyMemberAck(partyID, req.PlayerID, ack)
		if ack.Status != model.RouteAckSuccess {
			reason := ack.Reason
			if reason == "" {
				reason = "route-transient"
			}
			s.disconnect(ctx, ack.RequestID, req.PlayerID, req.PlayerName, req.ProxyID, reason)
		}
		delete(s.activeRequestIDs, ack.RequestID)
		return
	}

	if ack.Status == model.RouteAckSuccess {
		delete(s.activeRequestIDs, ack.RequestID)
		return
	}

	reason := ack.Reason
	if reason == "" {
		reason = "route-transient"
	}
	if retryableReasons[reason] {
		s.retryRequest(ctx, route.Context, reason)
		return
	}
	s.disconnect(ctx, ack.RequestID, req.PlayerID, req.PlayerName, req.ProxyID, reason)
	delete(s.activeRequestIDs, ack.RequestID)
}

// retryRequest implements spec §4.4's retry/terminate decision.
func (s *Service) retryRequest(ctx context.Context, rctx *model.PlayerRequestContext, reason string) {
	req := rctx.Request
	now := time.Now()

	if now.Sub(rctx.CreatedAt) >= s.cfg.MaxQueueWait {
		s.disconnect(ctx, req.RequestID, req.PlayerID, req.PlayerName, req.ProxyID, "queue-timeout")
		delete(s.activeRequestIDs, req.RequestID)
		return
	}
	rctx.Retries++
	if rctx.Retries > s.cfg.MaxRouteRetries {
		s.disconnect(ctx, req.RequestID, req.PlayerID, req.PlayerName, req.ProxyID, reason)
		delete(s.activeRequestIDs, req.RequestID)
		return
	}

	s.enqueueContext(req.FamilyID, rctx)
	s.triggerProvisionIfNeeded(ctx, req.FamilyID, req.Metadata)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func mergeMetadata(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
