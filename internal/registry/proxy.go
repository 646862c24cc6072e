package registry

import (
	"sync"
	"time"

	"github.com/slotfabric/matchcore/internal/model"
)

// ProxyRegistry tracks edge proxies: capacity and heartbeat, exposing the
// set of "known proxies" the routing service consults before dispatching a
// route (spec §2.3).
type ProxyRegistry struct {
	mu      sync.RWMutex
	proxies map[string]*model.ProxyRecord

	proxyTimeout time.Duration
}

// NewProxyRegistry creates an empty proxy registry. proxyTimeout mirrors
// the server registry's heartbeat staleness threshold.
func NewProxyRegistry(proxyTimeout time.Duration) *ProxyRegistry {
	if proxyTimeout <= 0 {
		proxyTimeout = 90 * time.Second
	}
	return &ProxyRegistry{
		proxies:      make(map[string]*model.ProxyRecord),
		proxyTimeout: proxyTimeout,
	}
}

// Announce registers (or re-registers) a proxy.
func (r *ProxyRegistry) Announce(msg model.ProxyAnnounceMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxies[msg.ProxyID] = &model.ProxyRecord{
		ProxyID:         msg.ProxyID,
		Address:         msg.Address,
		HardCap:         msg.HardCap,
		SoftCap:         msg.SoftCap,
		LastHeartbeatAt: time.Now(),
	}
}

// Heartbeat updates a known proxy's liveness and load.
func (r *ProxyRegistry) Heartbeat(msg model.ProxyHeartbeatMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proxies[msg.ProxyID]
	if !ok {
		return false
	}
	p.LastHeartbeatAt = time.Now()
	p.CurrentPlayerCount = msg.CurrentPlayerCount
	return true
}

// Remove evicts a proxy (explicit shutdown or TTL sweep).
func (r *ProxyRegistry) Remove(proxyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.proxies, proxyID)
}

// SweepStale evicts every proxy whose heartbeat is older than
// proxyTimeout, returning the evicted IDs.
func (r *ProxyRegistry) SweepStale(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []string
	for id, p := range r.proxies {
		if now.Sub(p.LastHeartbeatAt) > r.proxyTimeout {
			stale = append(stale, id)
			delete(r.proxies, id)
		}
	}
	return stale
}

// Known reports whether proxyID is a registered, live proxy.
func (r *ProxyRegistry) Known(proxyID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.proxies[proxyID]
	return ok
}

// Count returns the number of known proxies.
func (r *ProxyRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.proxies)
}
