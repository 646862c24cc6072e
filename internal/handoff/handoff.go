// Package handoff implements the Session Handoff Store (spec §4.6): a
// short-lived, per-player record of where a player was just routed to, so
// the backend a player actually connects to can look up the route that sent
// them there (spawn point, reservation token, slot) without a second round
// trip through the routing service.
package handoff

import (
	"sync"
	"time"

	"github.com/slotfabric/matchcore/internal/model"
)

// DefaultTTL bounds how long a handoff record survives unread — long enough
// to cover a player's proxy-to-backend connect, short enough that a player
// who never shows up doesn't linger forever.
const DefaultTTL = 30 * time.Second

// Store is a TTL'd playerId -> HandoffRecord map. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]model.HandoffRecord
}

// NewStore creates a handoff store. ttl <= 0 uses DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{ttl: ttl, records: make(map[string]model.HandoffRecord)}
}

// Put writes a handoff record for playerID, stamping its expiry from now.
func (s *Store) Put(rec model.HandoffRecord) {
	rec.ExpiresAt = time.Now().Add(s.ttl)
	s.mu.Lock()
	s.records[rec.PlayerID] = rec
	s.mu.Unlock()
}

// Take reads and removes playerID's handoff record. ok is false if no
// record exists or it has expired (spec: read-once, then gone).
func (s *Store) Take(playerID string) (model.HandoffRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found := s.records[playerID]
	if !found {
		return model.HandoffRecord{}, false
	}
	delete(s.records, playerID)

	if rec.Expired(time.Now()) {
		return model.HandoffRecord{}, false
	}
	return rec, true
}

// GCExpired removes expired, never-claimed records, returning the count
// removed.
func (s *Store) GCExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for playerID, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, playerID)
			removed++
		}
	}
	return removed
}

// Count returns the number of outstanding handoff records.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
