package reservation

import (
	"context"
	"log/slog"

	"github.com/slotfabric/matchcore/internal/bus"
	"github.com/slotfabric/matchcore/internal/model"
)

// ChanReservationRequest mirrors routing.ChanReservationRequest; duplicated
// here (rather than imported) to keep reservation free of a dependency on
// routing.
const ChanReservationRequest = "player.reservation.request"

// SlotCapacity is the read surface a backend gives the reservation service
// to check a slot's current capacity before accepting a hold.
type SlotCapacity interface {
	Slot(slotID string) *model.SlotRecord
}

// Service answers player.reservation.request messages targeted at this
// backend, issuing a Store token when the slot still has room.
type Service struct {
	bus      bus.Bus
	serverID string
	slots    SlotCapacity
	store    *Store

	unsub func()
}

// New creates a reservation service for one backend process, identified on
// the bus as serverID.
func New(b bus.Bus, serverID string, slots SlotCapacity, store *Store) *Service {
	if store == nil {
		store = NewStore(DefaultTTL)
	}
	return &Service{bus: b, serverID: serverID, slots: slots, store: store}
}

// Start subscribes to this backend's targeted reservation-request channel.
func (s *Service) Start() {
	channel := bus.TargetedChannel(ChanReservationRequest, s.serverID)
	s.unsub = s.bus.Subscribe(channel, s.onRequest)
}

// Stop unsubscribes.
func (s *Service) Stop() {
	if s.unsub != nil {
		s.unsub()
	}
}

func (s *Service) onRequest(ctx context.Context, env bus.Envelope) {
	var req model.PlayerReservationRequest
	if err := env.Decode(&req); err != nil {
		slog.Error("decoding PlayerReservationRequest", "error", err)
		return
	}

	resp := model.PlayerReservationResponse{RequestID: req.RequestID, ServerID: s.serverID}

	slot := s.slots.Slot(req.SlotID)
	switch {
	case slot == nil:
		resp.Reason = "slot-not-ready"
	case !slot.Status.Dispatchable():
		resp.Reason = "slot-not-ready"
	case !slot.HasCapacity(0):
		resp.Reason = "reservation-rejected"
	default:
		token, err := s.store.Issue(req.PlayerID, req.SlotID)
		if err != nil {
			slog.Error("issuing reservation token", "error", err)
			resp.Reason = "reservation-failed"
		} else {
			resp.Accepted = true
			resp.ReservationToken = token
		}
	}

	if err := s.bus.Reply(ctx, s.serverID, env.SenderID, ChanReservationRequest, env.CorrelationID, "PlayerReservationResponse", resp); err != nil {
		slog.Error("replying to reservation request", "error", err)
	}
}
