package routing

import (
	"context"
	"log/slog"

	"github.com/gammazero/deque"

	"github.com/slotfabric/matchcore/internal/model"
)

// handlePartyReservationCreated seats a party allocation onto an eligible
// slot — preferring the reservation's TargetServerID when set, else
// scanning every registered server — or queues it for the next provisioned
// slot (spec §4.4's party path).
func (s *Service) handlePartyReservationCreated(ctx context.Context, msg model.PartyReservationCreatedMessage) {
	reservationID := msg.Reservation.ReservationID
	if _, dup := s.seenPartyIDs[reservationID]; dup {
		return
	}
	s.seenPartyIDs[reservationID] = struct{}{}

	partySize := len(msg.Reservation.Tokens)
	if partySize == 0 {
		partySize = 1
	}

	if msg.Reservation.TargetServerID != "" {
		if slot := s.slotForParty(msg.Reservation.TargetServerID, msg.FamilyID, msg.VariantID, partySize); slot != nil {
			s.allocatePartyReservation(ctx, msg.Reservation, msg.FamilyID, msg.VariantID, partySize, slot)
			return
		}
	}

	var chosen *model.SlotRecord
	s.servers.ForEachServer(func(server *model.ServerRecord) {
		if chosen != nil {
			return
		}
		for _, slot := range server.Slots {
			if s.eligible(slot, msg.FamilyID, msg.VariantID, "") && s.canSlotFitParty(slot, partySize) {
				chosen = slot
				return
			}
		}
	})
	if chosen != nil {
		s.allocatePartyReservation(ctx, msg.Reservation, msg.FamilyID, msg.VariantID, partySize, chosen)
		return
	}

	q := s.pendingPartyReservations[msg.FamilyID]
	if q == nil {
		q = new(deque.Deque)
		s.pendingPartyReservations[msg.FamilyID] = q
	}
	q.PushBack(msg)
	s.triggerProvisionIfNeeded(ctx, msg.FamilyID, map[string]string{
		model.ProvisionMetaPartySize:         itoa(partySize),
		model.ProvisionMetaVariant:           msg.VariantID,
		model.ProvisionMetaPartyReservationID: reservationID,
	})
}

// slotForParty returns serverID's slot if it fits the party, else nil.
func (s *Service) slotForParty(serverID, familyID, variantID string, partySize int) *model.SlotRecord {
	server := s.servers.Server(serverID)
	if server == nil {
		return nil
	}
	for _, slot := range server.Slots {
		if s.eligible(slot, familyID, variantID, "") && s.canSlotFitParty(slot, partySize) {
			return slot
		}
	}
	return nil
}

// allocatePartyReservation commits the party to slot: assigns a team index,
// reserves pendingOccupancy for the whole party, and dispatches any party
// members who already submitted a PlayerSlotRequest while the reservation
// was still queued.
func (s *Service) allocatePartyReservation(ctx context.Context, snap model.PartyReservationSnapshot, familyID, variantID string, partySize int, slot *model.SlotRecord) {
	alloc := model.NewPartyReservationAllocation(snap, familyID, partySize)
	alloc.SlotID = slot.SlotID
	alloc.ServerID = slot.ServerID

	if teamCount := s.teamCount(slot); teamCount > 0 {
		alloc.TeamIndex = lowestUnusedTeamIndex(teamCount, s.usedTeams(slot.SlotID))
		if alloc.TeamIndex < 0 {
			// every team is occupied; park the reservation and re-provision
			// rather than seat a party with no team to put it in.
			q := s.pendingPartyReservations[familyID]
			if q == nil {
				q = new(deque.Deque)
				s.pendingPartyReservations[familyID] = q
			}
			q.PushFront(model.PartyReservationCreatedMessage{Reservation: snap, FamilyID: familyID, VariantID: variantID})
			s.triggerProvisionIfNeeded(ctx, familyID, map[string]string{model.ProvisionMetaPartySize: itoa(partySize)})
			return
		}
	}

	s.activePartyReservations[snap.ReservationID] = alloc
	s.pendingOccupancy[slot.SlotID] += partySize

	pending := s.pendingPartyPlayerRequests[snap.ReservationID]
	if pending == nil {
		return
	}
	for pending.Len() > 0 {
		rctx := pending.PopFront().(*model.PlayerRequestContext)
		s.dispatchPartyMember(ctx, alloc, rctx)
	}
	delete(s.pendingPartyPlayerRequests, snap.ReservationID)
}

// handlePartyPlayerRequest routes a player request that carries a
// partyReservationId metadata key: dispatch immediately if the allocation
// already exists, else park it until handlePartyReservationCreated arrives.
func (s *Service) handlePartyPlayerRequest(ctx context.Context, req model.PlayerSlotRequest) {
	if _, dup := s.activeRequestIDs[req.RequestID]; dup {
		return
	}
	s.activeRequestIDs[req.RequestID] = struct{}{}

	reservationID := req.Metadata[model.MetaPartyReservationID]
	rctx := &model.PlayerRequestContext{Request: req, VariantID: req.Metadata[model.MetaVariant]}

	alloc, ok := s.activePartyReservations[reservationID]
	if !ok || alloc.Released {
		q := s.pendingPartyPlayerRequests[reservationID]
		if q == nil {
			q = new(deque.Deque)
			s.pendingPartyPlayerRequests[reservationID] = q
		}
		q.PushBack(rctx)
		return
	}
	s.dispatchPartyMember(ctx, alloc, rctx)
}

// dispatchPartyMember validates the party token and seats the player into
// the allocation's slot, or requeues the whole allocation if its slot has
// since gone away.
func (s *Service) dispatchPartyMember(ctx context.Context, alloc *model.PartyReservationAllocation, rctx *model.PlayerRequestContext) {
	req := rctx.Request
	token, expected := req.Metadata[model.MetaPartyTokenID], alloc.Snapshot.Tokens[req.PlayerID]
	if expected != "" && token != expected {
		s.disconnect(ctx, req.RequestID, req.PlayerID, req.PlayerName, req.ProxyID, "party-token-mismatch")
		delete(s.activeRequestIDs, req.RequestID)
		return
	}

	slot := s.servers.Slot(alloc.SlotID)
	if slot == nil || !slot.Status.Dispatchable() {
		s.requeuePartyReservation(ctx, alloc)
		q := s.pendingPartyPlayerRequests[alloc.Snapshot.ReservationID]
		if q == nil {
			q = new(deque.Deque)
			s.pendingPartyPlayerRequests[alloc.Snapshot.ReservationID] = q
		}
		q.PushBack(rctx)
		return
	}

	alloc.DispatchedPlayers[req.PlayerID] = struct{}{}
	rctx.CreatedAt = timeNowIfZero(rctx.CreatedAt)
	s.dispatch(ctx, rctx, slot, token, true, partyDispatchMetadata(alloc))
}

// partyDispatchMetadata builds the team.index/partyId metadata spec §4.4's
// DISPATCH step requires for a party member; team.index is only set when
// the slot is team-based (alloc.TeamIndex >= 0).
func partyDispatchMetadata(alloc *model.PartyReservationAllocation) map[string]string {
	meta := map[string]string{"partyId": alloc.Snapshot.PartyID}
	if alloc.TeamIndex >= 0 {
		meta["team.index"] = itoa(alloc.TeamIndex)
	}
	return meta
}

// onPartyMemberAck folds a route ack for a party member into the
// allocation's claim bookkeeping: a failed route counts as a claim failure.
func (s *Service) onPartyMemberAck(reservationID, playerID string, ack model.PlayerRouteAck) {
	alloc, ok := s.activePartyReservations[reservationID]
	if !ok || alloc.Released {
		return
	}
	if ack.Status == model.RouteAckFailed {
		if _, already := alloc.ClaimFailures[playerID]; !already {
			reason := ack.Reason
			if reason == "" {
				reason = "route-transient"
			}
			alloc.ClaimFailures[playerID] = reason
		}
		if alloc.Complete() {
			s.releasePartyReservation(alloc)
		}
	}
}

// handlePartyReservationClaimed records the backend's authoritative claim
// outcome for one party member and releases the allocation once every
// member has resolved (spec §4.4).
func (s *Service) handlePartyReservationClaimed(msg model.PartyReservationClaimedMessage) {
	alloc, ok := s.activePartyReservations[msg.ReservationID]
	if !ok || alloc.Released {
		return
	}
	if msg.Success {
		alloc.ClaimedPlayers[msg.PlayerID] = struct{}{}
		delete(alloc.ClaimFailures, msg.PlayerID)
	} else {
		reason := msg.Reason
		if reason == "" {
			reason = "claim-rejected"
		}
		alloc.ClaimFailures[msg.PlayerID] = reason
	}
	if alloc.Complete() {
		s.releasePartyReservation(alloc)
	}
}

// releasePartyReservation marks an allocation resolved and returns its
// pendingOccupancy hold.
func (s *Service) releasePartyReservation(alloc *model.PartyReservationAllocation) {
	if alloc.Released {
		return
	}
	alloc.Released = true
	s.pendingOccupancy[alloc.SlotID] -= alloc.PartySize
	if !alloc.ClaimSuccessful() {
		slog.Warn("party reservation resolved with failures", "reservationId", alloc.Snapshot.ReservationID, "failures", len(alloc.ClaimFailures))
	}
	delete(s.activePartyReservations, alloc.Snapshot.ReservationID)
}

// requeuePartyReservation undoes an allocation's slot/occupancy hold and
// re-parks it at the front of its family's pending queue, then asks
// provisioning for a replacement slot.
func (s *Service) requeuePartyReservation(ctx context.Context, alloc *model.PartyReservationAllocation) {
	if alloc.Released {
		return
	}
	alloc.Released = true
	s.pendingOccupancy[alloc.SlotID] -= alloc.PartySize
	delete(s.activePartyReservations, alloc.Snapshot.ReservationID)

	snap := alloc.Snapshot
	snap.TargetServerID = ""
	q := s.pendingPartyReservations[alloc.FamilyID]
	if q == nil {
		q = new(deque.Deque)
		s.pendingPartyReservations[alloc.FamilyID] = q
	}
	q.PushFront(model.PartyReservationCreatedMessage{Reservation: snap, FamilyID: alloc.FamilyID})
	s.triggerProvisionIfNeeded(ctx, alloc.FamilyID, map[string]string{model.ProvisionMetaPartySize: itoa(alloc.PartySize)})
}
