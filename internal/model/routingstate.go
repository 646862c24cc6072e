package model

import "time"

// PlayerRequestContext is a pending routing attempt, owned exclusively by
// the routing worker goroutine (spec §5 — single-writer, no lock needed on
// its own fields).
type PlayerRequestContext struct {
	Request        PlayerSlotRequest
	CreatedAt      time.Time
	LastEnqueuedAt time.Time
	Retries        int
	BlockedSlotID  string
	VariantID      string
}

// Expired reports whether the context has been queued longer than
// maxQueueWait.
func (c *PlayerRequestContext) Expired(now time.Time, maxQueueWait time.Duration) bool {
	return now.Sub(c.CreatedAt) >= maxQueueWait
}

// InFlightRoute is a dispatched but unacknowledged route.
type InFlightRoute struct {
	Context     *PlayerRequestContext
	SlotID      string
	Timer       *time.Timer
	PreReserved bool // true for party members: occupancy is held by the PartyReservationAllocation, not this route
}

// PartyReservationAllocation holds N slots for a party on one slot.
type PartyReservationAllocation struct {
	Snapshot          PartyReservationSnapshot
	SlotID            string
	ServerID          string
	FamilyID          string
	PartySize         int
	TeamIndex         int // -1 if not team-based
	DispatchedPlayers map[string]struct{}
	ClaimedPlayers    map[string]struct{}
	ClaimFailures     map[string]string // playerId -> reason
	Released          bool
}

// NewPartyReservationAllocation builds an allocation with empty tracking sets.
func NewPartyReservationAllocation(snap PartyReservationSnapshot, familyID string, partySize int) *PartyReservationAllocation {
	return &PartyReservationAllocation{
		Snapshot:          snap,
		FamilyID:          familyID,
		PartySize:         partySize,
		TeamIndex:         -1,
		DispatchedPlayers: make(map[string]struct{}),
		ClaimedPlayers:    make(map[string]struct{}),
		ClaimFailures:     make(map[string]string),
	}
}

// Complete reports whether every party member has either claimed or failed.
func (a *PartyReservationAllocation) Complete() bool {
	return len(a.ClaimedPlayers)+len(a.ClaimFailures) >= a.PartySize
}

// ClaimSuccessful reports whether every party member claimed successfully
// (no failures and all claimed) — used to decide the release outcome.
func (a *PartyReservationAllocation) ClaimSuccessful() bool {
	return len(a.ClaimFailures) == 0 && len(a.ClaimedPlayers) >= a.PartySize
}

// MatchRosterSnapshot is the locked roster of an in-game slot.
type MatchRosterSnapshot struct {
	MatchID   string
	Players   map[string]struct{}
	UpdatedAt time.Time
}

// Allows reports whether playerID may be routed into the slot this roster
// guards.
func (m *MatchRosterSnapshot) Allows(playerID string) bool {
	if m == nil {
		return true
	}
	_, ok := m.Players[playerID]
	return ok
}
