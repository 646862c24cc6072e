package reservation

import (
	"context"
	"sync"

	"github.com/slotfabric/matchcore/internal/bus"
	"github.com/slotfabric/matchcore/internal/model"
)

// SlotMirror is a backend-local mirror of this server's own slot status
// updates, fed by the same registry.slot.status broadcasts the Server
// Registry consumes. A backend process uses it to answer reservation
// requests without depending on the routing core's own registry state.
type SlotMirror struct {
	mu    sync.RWMutex
	slots map[string]*model.SlotRecord

	unsub func()
}

// NewSlotMirror creates an empty mirror.
func NewSlotMirror() *SlotMirror {
	return &SlotMirror{slots: make(map[string]*model.SlotRecord)}
}

// Watch subscribes to slot status updates on channel, keeping only the
// slots owned by serverID.
func (m *SlotMirror) Watch(b bus.Bus, channel, serverID string) {
	m.unsub = b.Subscribe(channel, func(ctx context.Context, env bus.Envelope) {
		var msg model.SlotStatusUpdateMessage
		if err := env.Decode(&msg); err != nil || msg.ServerID != serverID {
			return
		}
		m.mu.Lock()
		m.slots[msg.SlotID] = &model.SlotRecord{
			SlotID:        msg.SlotID,
			ServerID:      msg.ServerID,
			SlotSuffix:    msg.SlotSuffix,
			GameType:      msg.GameType,
			Status:        msg.Status,
			MaxPlayers:    msg.MaxPlayers,
			OnlinePlayers: msg.OnlinePlayers,
			Metadata:      msg.Metadata,
		}
		m.mu.Unlock()
	})
}

// Stop unsubscribes the mirror.
func (m *SlotMirror) Stop() {
	if m.unsub != nil {
		m.unsub()
	}
}

// Slot implements SlotCapacity.
func (m *SlotMirror) Slot(slotID string) *model.SlotRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slots[slotID]
}
