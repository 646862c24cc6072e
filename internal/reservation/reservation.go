// Package reservation implements the backend-side Reservation Service
// (spec §4.5): a short-lived token a backend hands the routing service so a
// player's seat on a slot cannot be stolen between RESERVE and the player's
// actual join, consumed exactly once on arrival.
package reservation

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is the reservation token lifetime (spec §4.5).
const DefaultTTL = 15 * time.Second

type entry struct {
	playerID  string
	slotID    string
	expiresAt time.Time
}

// Store issues and consumes reservation tokens for one backend process.
// Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry // token -> entry
}

// NewStore creates a reservation token store. ttl <= 0 uses DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Issue mints a fresh token binding playerID to slotID, valid for the
// store's TTL.
func (s *Store) Issue(playerID, slotID string) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("issuing reservation token: %w", err)
	}

	s.mu.Lock()
	s.entries[token] = entry{
		playerID:  playerID,
		slotID:    slotID,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()
	return token, nil
}

// Consume atomically removes and validates token for playerID, returning
// the slotID it was issued for. ok is false if the token is unknown,
// expired, or was issued to a different player — the caller must treat all
// three identically (spec §4.5: reservations are single-use).
func (s *Store) Consume(token, playerID string) (slotID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.entries[token]
	if !found {
		return "", false
	}
	delete(s.entries, token) // single-use regardless of outcome

	if time.Now().After(e.expiresAt) || e.playerID != playerID {
		return "", false
	}
	return e.slotID, true
}

// GCExpired removes tokens past their TTL that were never consumed,
// returning the count removed. Call periodically so an abandoned
// reservation doesn't linger in memory forever.
func (s *Store) GCExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// Count returns the number of unconsumed tokens held by the store, including
// expired ones that GCExpired has not yet removed.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func randomToken() (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
