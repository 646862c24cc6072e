package routing

import (
	"context"
	"log/slog"
	"time"

	"github.com/gammazero/deque"

	"github.com/slotfabric/matchcore/internal/model"
)

// enqueueContext appends a pending player request to its family's FIFO
// queue (spec §4.4: "queued player requests are served in FIFO order within
// a family").
func (s *Service) enqueueContext(familyID string, rctx *model.PlayerRequestContext) {
	rctx.LastEnqueuedAt = time.Now()
	q := s.pendingQueues[familyID]
	if q == nil {
		q = new(deque.Deque)
		s.pendingQueues[familyID] = q
	}
	q.PushBack(rctx)
}

// triggerProvisionIfNeeded asks the provisioning service for a new slot for
// familyID. Failures are logged; the request stays queued until a slot for
// the family reports AVAILABLE or a later request or retry asks again.
func (s *Service) triggerProvisionIfNeeded(ctx context.Context, familyID string, metadata map[string]string) {
	if s.provisioner == nil {
		return
	}
	result := s.provisioner.RequestProvision(ctx, familyID, metadata)
	if !result.Ok {
		slog.Debug("no eligible backend to provision", "family", familyID)
	}
}

// handleSlotStatusUpdate applies a SlotStatusUpdateMessage to the routing
// service's view of slot availability: draining the family queue when a
// slot becomes AVAILABLE, and requeuing anything bound to a slot that
// leaves service (spec §4.4).
func (s *Service) handleSlotStatusUpdate(ctx context.Context, msg model.SlotStatusUpdateMessage) {
	slotID := msg.ServerID + ":" + msg.SlotSuffix

	switch msg.Status {
	case model.SlotAvailable, model.SlotAllocated:
		s.drainPartyQueueForSlot(ctx, msg, slotID)
		s.drainQueueForSlot(ctx, msg, slotID)
		if s.provisioner != nil {
			s.provisioner.ObserveAvailableSlot(msg.Metadata["family"])
		}
	case model.SlotProvisioning, model.SlotCooldown, model.SlotFaulted:
		s.handleSlotUnavailable(ctx, slotID)
	}
}

// drainQueueForSlot serves the family queue against the now-available slot,
// FIFO, until the slot runs out of capacity or the queue is exhausted.
// Requests that don't match the slot's variant/blockedSlotId are skipped
// back onto the tail, bounded to one pass over the queue's starting length
// so a persistently mismatched request cannot spin the worker.
func (s *Service) drainQueueForSlot(ctx context.Context, msg model.SlotStatusUpdateMessage, slotID string) {
	familyID := msg.Metadata["family"]
	q := s.pendingQueues[familyID]
	if q == nil || q.Len() == 0 {
		return
	}

	slot := s.servers.Slot(slotID)
	if slot == nil {
		return
	}

	// reserved counts reservations issued in this pass: their occupancy is
	// only added at dispatch, after this function returns.
	reserved := 0
	passes := q.Len()
	for i := 0; i < passes && q.Len() > 0; i++ {
		if !slot.HasCapacity(s.pendingOccupancy[slotID] + reserved) {
			break
		}
		rctx := q.PopFront().(*model.PlayerRequestContext)

		if _, active := s.activeRequestIDs[rctx.Request.RequestID]; !active {
			continue // cancelled/disconnected while queued
		}
		if rctx.Expired(time.Now(), s.cfg.MaxQueueWait) {
			s.disconnect(ctx, rctx.Request.RequestID, rctx.Request.PlayerID, rctx.Request.PlayerName, rctx.Request.ProxyID, "queue-timeout")
			delete(s.activeRequestIDs, rctx.Request.RequestID)
			continue
		}
		if !s.eligibleForPlayer(slot, familyID, rctx.VariantID, rctx.BlockedSlotID, rctx.Request.PlayerID) {
			q.PushBack(rctx)
			continue
		}

		s.reserve(ctx, rctx, slot)
		reserved++
	}
}

// drainPartyQueueForSlot serves any pending party reservations for the
// slot's family before single-player requests get a turn at it, since a
// party reservation may have been waiting on a provision it itself
// triggered.
func (s *Service) drainPartyQueueForSlot(ctx context.Context, msg model.SlotStatusUpdateMessage, slotID string) {
	familyID := msg.Metadata["family"]
	q := s.pendingPartyReservations[familyID]
	if q == nil || q.Len() == 0 {
		return
	}

	slot := s.servers.Slot(slotID)
	if slot == nil {
		return
	}

	passes := q.Len()
	for i := 0; i < passes && q.Len() > 0; i++ {
		created := q.PopFront().(model.PartyReservationCreatedMessage)
		partySize := len(created.Reservation.Tokens)
		if partySize == 0 {
			partySize = 1
		}
		if !s.eligible(slot, familyID, created.VariantID, "") || !s.canSlotFitParty(slot, partySize) {
			q.PushBack(created)
			continue
		}
		s.allocatePartyReservation(ctx, created.Reservation, familyID, created.VariantID, partySize, slot)
	}
}

// handleSlotUnavailable clears bookkeeping tied to a slot that left service
// and requeues anything that was depending on it (spec §4.4).
func (s *Service) handleSlotUnavailable(ctx context.Context, slotID string) {
	delete(s.matchRosters, slotID)

	for requestID, route := range s.inFlightRoutes {
		if route.SlotID != slotID {
			continue
		}
		route.Timer.Stop()
		delete(s.inFlightRoutes, requestID)
		s.retryRequest(ctx, route.Context, "slot-unavailable")
	}

	for _, alloc := range s.activePartyReservations {
		if alloc.Released || alloc.SlotID != slotID {
			continue
		}
		s.requeuePartyReservation(ctx, alloc)
	}
	// cleared last: requeuePartyReservation subtracts each party's hold.
	delete(s.pendingOccupancy, slotID)
}
