package model

import "time"

// ReservationRecord is a single-use, TTL'd reservation token issued by a
// backend's Reservation Service.
type ReservationRecord struct {
	Token     string
	PlayerID  string
	SlotID    string
	ExpiresAt time.Time
}

// Expired reports whether the record's TTL has elapsed.
func (r ReservationRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// HandoffRecord is a short-lived KV entry consulted when a player actually
// connects to a backend, confirming the join is expected.
type HandoffRecord struct {
	PlayerID         string
	ServerID         string
	SlotID           string
	ReservationToken string
	Metadata         map[string]string
	IssuedAt         time.Time
	ExpiresAt        time.Time
}

// Expired reports whether the handoff record's TTL has elapsed.
func (h HandoffRecord) Expired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// EnvironmentSegment is one span of a player's session spent in a given
// environment (lobby, game, ...).
type EnvironmentSegment struct {
	Environment string
	ServerID    string
	StartedAt   time.Time
	EndedAt     time.Time // zero value: still open
}

// SessionRecord is the minimal durable state needed to resume or cleanly
// evict a reconnecting player (spec §3, PlayerSessionRecord; only the
// handoff/link role is in scope).
type SessionRecord struct {
	SessionID             string
	PlayerID              string
	ServerID              string
	LastSlotID            string
	Segments              []EnvironmentSegment
	ClientProtocolVersion int
	UpdatedAt             time.Time
}
