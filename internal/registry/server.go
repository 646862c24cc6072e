// Package registry implements the Server Registry and Proxy Registry (spec
// §4.2 and the proxy registry of §2.3): tracking backend servers, their
// slots, and edge proxies, updated by registration/heartbeat/slot-status
// traffic and evicted via TTL.
package registry

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slotfabric/matchcore/internal/model"
)

// SlotUnavailableFunc is invoked when a slot transitions out of
// AVAILABLE/ALLOCATED, or is removed outright. It is an optional hook: the
// routing service does not register one, since it reacts to
// registry.slot.status messages on the bus itself.
type SlotUnavailableFunc func(slot *model.SlotRecord, reason string)

// SlotAvailableFunc is invoked when a slot transitions into AVAILABLE. Like
// SlotUnavailableFunc it is an optional hook that the routing service does
// not register.
type SlotAvailableFunc func(slot *model.SlotRecord)

// ServerRegistry tracks backend servers and their slots. Thread-safe: all
// mutation methods take mu. Lookups return the stored records themselves,
// not copies.
type ServerRegistry struct {
	mu      sync.RWMutex
	servers map[string]*model.ServerRecord
	byType  map[string]int // type -> next monotonic counter

	serverTimeout time.Duration

	onSlotUnavailable SlotUnavailableFunc
	onSlotAvailable   SlotAvailableFunc
}

// NewServerRegistry creates an empty registry. serverTimeout is the
// heartbeat staleness threshold past which a server is evicted (default 90s
// per spec §4.2).
func NewServerRegistry(serverTimeout time.Duration) *ServerRegistry {
	if serverTimeout <= 0 {
		serverTimeout = 90 * time.Second
	}
	return &ServerRegistry{
		servers:       make(map[string]*model.ServerRecord),
		byType:        make(map[string]int),
		serverTimeout: serverTimeout,
	}
}

// OnSlotUnavailable wires the callback invoked on slot removal/transition
// out of AVAILABLE/ALLOCATED.
func (r *ServerRegistry) OnSlotUnavailable(fn SlotUnavailableFunc) { r.onSlotUnavailable = fn }

// OnSlotAvailable wires the callback invoked on slot transition into
// AVAILABLE.
func (r *ServerRegistry) OnSlotAvailable(fn SlotAvailableFunc) { r.onSlotAvailable = fn }

// RegistrationResult is the outcome of Register.
type RegistrationResult struct {
	Success          bool
	Reason           string
	AssignedServerID string
}

// Register implements the registration handshake of spec §4.2: validates
// the request, assigns a permanent ID if tempId is a temp-id (or reuses it
// if it is already permanent — re-registration), stores the record and
// marks its heartbeat as now.
func (r *ServerRegistry) Register(req model.ServerRegistrationRequest) RegistrationResult {
	if strings.TrimSpace(req.TempID) == "" || strings.TrimSpace(req.Type) == "" {
		return RegistrationResult{Reason: "blank id or type"}
	}
	if req.MaxCapacity <= 0 {
		return RegistrationResult{Reason: "non-positive capacity"}
	}
	if req.Port <= 0 || req.Port > 65535 {
		return RegistrationResult{Reason: "invalid port"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var assignedID string
	if strings.HasPrefix(req.TempID, "temp-") {
		typeKey := strings.ToLower(req.Type)
		r.byType[typeKey]++
		assignedID = fmt.Sprintf("%s%d", typeKey, r.byType[typeKey])
	} else if existing, ok := r.servers[req.TempID]; ok {
		assignedID = existing.ServerID
	} else {
		assignedID = req.TempID
	}

	rec := &model.ServerRecord{
		ServerID:        assignedID,
		Type:            req.Type,
		Role:            req.Role,
		Address:         req.Address,
		Port:            req.Port,
		MaxCapacity:     req.MaxCapacity,
		Status:          model.ServerProvisioning,
		LastHeartbeatAt: time.Now(),
		Slots:           make(map[string]*model.SlotRecord),
	}
	r.servers[assignedID] = rec

	slog.Info("server registered", "serverId", assignedID, "type", req.Type, "role", req.Role)

	return RegistrationResult{Success: true, AssignedServerID: assignedID}
}

// Heartbeat updates a server's liveness and load fields.
func (r *ServerRegistry) Heartbeat(msg model.ServerHeartbeatMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.servers[msg.ServerID]
	if !ok {
		return false
	}
	rec.LastHeartbeatAt = time.Now()
	rec.CurrentPlayerCount = msg.PlayerCount
	if msg.MaxCapacity > 0 {
		rec.MaxCapacity = msg.MaxCapacity
	}
	return true
}

// UpdateSlot merges a slot.status.update message into the owning server's
// slot map (creating the slot if missing), per spec §4.2. It invokes
// onSlotUnavailable/onSlotAvailable as appropriate for the transition.
func (r *ServerRegistry) UpdateSlot(msg model.SlotStatusUpdateMessage) error {
	if strings.TrimSpace(msg.SlotSuffix) == "" {
		return fmt.Errorf("slot update missing slotSuffix")
	}
	slotID := msg.ServerID + ":" + msg.SlotSuffix

	r.mu.Lock()
	server, ok := r.servers[msg.ServerID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown server %q", msg.ServerID)
	}

	existing := server.Slots[slotID]
	previousStatus := model.SlotStatus("")
	if existing != nil {
		previousStatus = existing.Status
	}

	slot := &model.SlotRecord{
		SlotID:        slotID,
		ServerID:      msg.ServerID,
		SlotSuffix:    msg.SlotSuffix,
		GameType:      msg.GameType,
		Status:        msg.Status,
		MaxPlayers:    msg.MaxPlayers,
		OnlinePlayers: msg.OnlinePlayers,
		Metadata:      msg.Metadata,
		UpdatedAt:     time.Now(),
	}
	server.Slots[slotID] = slot
	r.mu.Unlock()

	if previousStatus == slot.Status {
		// Replaying an unchanged status is a no-op beyond the metadata merge
		// already applied above (spec §8 round-trip law).
		return nil
	}

	if !slot.Status.Dispatchable() && r.onSlotUnavailable != nil {
		r.onSlotUnavailable(slot, "slot-status-"+strings.ToLower(string(slot.Status)))
	}
	if slot.Status == model.SlotAvailable && r.onSlotAvailable != nil {
		r.onSlotAvailable(slot)
	}
	return nil
}

// Remove evicts a server (heartbeat timeout or explicit removal
// notification), invoking onSlotUnavailable for each of its slots.
func (r *ServerRegistry) Remove(serverID, reason string) {
	r.mu.Lock()
	server, ok := r.servers[serverID]
	if ok {
		delete(r.servers, serverID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	slog.Info("server removed", "serverId", serverID, "reason", reason)

	if r.onSlotUnavailable != nil {
		for _, slot := range server.Slots {
			r.onSlotUnavailable(slot, reason)
		}
	}
}

// SweepStale evicts every server whose heartbeat is older than
// serverTimeout, returning the evicted IDs.
func (r *ServerRegistry) SweepStale(now time.Time) []string {
	r.mu.RLock()
	var stale []string
	for id, s := range r.servers {
		if now.Sub(s.LastHeartbeatAt) > r.serverTimeout {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.Remove(id, "heartbeat-timeout")
	}
	return stale
}

// Server returns the registry's stored record for serverID (not a copy), or
// nil.
func (r *ServerRegistry) Server(serverID string) *model.ServerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.servers[serverID]
}

// Slot returns a slot by its full slotId ("<serverId>:<slotSuffix>"), or
// nil.
func (r *ServerRegistry) Slot(slotID string) *model.SlotRecord {
	serverID, _, ok := strings.Cut(slotID, ":")
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	server, ok := r.servers[serverID]
	if !ok {
		return nil
	}
	return server.Slots[slotID]
}

// ForEachServer calls fn for every registered server under a read lock.
// fn must not call back into the registry.
func (r *ServerRegistry) ForEachServer(fn func(*model.ServerRecord)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.servers {
		fn(s)
	}
}

// Count returns the number of registered servers.
func (r *ServerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// ValidAddress reports whether host:port parses as a dialable address —
// used by callers validating registration payloads beyond the handshake's
// own port-range check.
func ValidAddress(address string, port int) bool {
	if port <= 0 || port > 65535 {
		return false
	}
	if address == "" {
		return false
	}
	_, _, err := net.SplitHostPort(net.JoinHostPort(address, strconv.Itoa(port)))
	return err == nil
}
