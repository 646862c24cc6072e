package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/slotfabric/matchcore/internal/bus"
	"github.com/slotfabric/matchcore/internal/model"
	"github.com/slotfabric/matchcore/internal/routing"
)

// Tracker persists a SessionRecord every time a player is successfully
// routed, giving the Session Record Store (SPEC_FULL.md §4.7) a live feed
// independent of the routing service's own in-memory state.
type Tracker struct {
	bus    bus.Bus
	repo   *Repository
	unsub  func()
}

// NewTracker wires a Tracker against an already-migrated Repository.
func NewTracker(b bus.Bus, repo *Repository) *Tracker {
	return &Tracker{bus: b, repo: repo}
}

// Start subscribes to route acks. Call Stop to unsubscribe.
func (t *Tracker) Start() {
	t.unsub = t.bus.Subscribe(routing.ChanRouteAck, t.onRouteAck)
}

// Stop unsubscribes the tracker.
func (t *Tracker) Stop() {
	if t.unsub != nil {
		t.unsub()
	}
}

func (t *Tracker) onRouteAck(ctx context.Context, env bus.Envelope) {
	var msg model.PlayerRouteAck
	if err := env.Decode(&msg); err != nil {
		return
	}
	if msg.Status != model.RouteAckSuccess || !msg.Valid() {
		return
	}

	rec, err := t.repo.LoadActiveByPlayer(ctx, msg.PlayerID)
	if err != nil {
		slog.Error("loading session for route ack", "playerId", msg.PlayerID, "error", err)
		return
	}
	now := time.Now()
	if rec == nil {
		rec = &model.SessionRecord{
			SessionID: msg.PlayerID + ":" + itoa64(now.UnixNano()),
			PlayerID:  msg.PlayerID,
		}
	}
	if rec.ServerID != msg.ServerID {
		if rec.ServerID != "" && len(rec.Segments) > 0 {
			rec.Segments[len(rec.Segments)-1].EndedAt = now
		}
		rec.Segments = append(rec.Segments, model.EnvironmentSegment{
			Environment: msg.SlotID,
			ServerID:    msg.ServerID,
			StartedAt:   now,
		})
	}
	rec.ServerID = msg.ServerID
	rec.LastSlotID = msg.SlotID

	if err := t.repo.Upsert(ctx, rec); err != nil {
		slog.Error("persisting session", "playerId", msg.PlayerID, "error", err)
	}
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
