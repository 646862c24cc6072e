package routing

import (
	"strconv"
	"strings"

	"github.com/slotfabric/matchcore/internal/model"
)

// eligible implements spec §4.4's slot eligibility rules.
func (s *Service) eligible(slot *model.SlotRecord, familyID, variantID, blockedSlotID string) bool {
	if !slot.Status.Dispatchable() {
		return false
	}
	if !strings.EqualFold(slot.Family(), familyID) {
		return false
	}
	if variantID != "" {
		if !strings.EqualFold(variantID, slot.Variant()) &&
			!strings.EqualFold(variantID, slot.GameType) &&
			!strings.EqualFold(variantID, slot.Metadata["familyVariant"]) {
			return false
		}
	}
	if strings.EqualFold(slot.SlotID, blockedSlotID) {
		return false
	}
	if !slot.HasCapacity(s.pendingOccupancy[slot.SlotID]) {
		return false
	}
	if roster := s.matchRosters[slot.SlotID]; roster != nil {
		return false // caller must check roster membership separately; a locked slot never matches a generic scan
	}
	return true
}

// eligibleForPlayer is like eligible but allows a roster-locked slot when
// playerID is a roster member (used by the single-player dispatch path,
// which already knows the player).
func (s *Service) eligibleForPlayer(slot *model.SlotRecord, familyID, variantID, blockedSlotID, playerID string) bool {
	if !slot.Status.Dispatchable() {
		return false
	}
	if !strings.EqualFold(slot.Family(), familyID) {
		return false
	}
	if variantID != "" {
		if !strings.EqualFold(variantID, slot.Variant()) &&
			!strings.EqualFold(variantID, slot.GameType) &&
			!strings.EqualFold(variantID, slot.Metadata["familyVariant"]) {
			return false
		}
	}
	if strings.EqualFold(slot.SlotID, blockedSlotID) {
		return false
	}
	if !slot.HasCapacity(s.pendingOccupancy[slot.SlotID]) {
		return false
	}
	if roster := s.matchRosters[slot.SlotID]; roster != nil && !roster.Allows(playerID) {
		return false
	}
	return true
}

// findAvailableSlot scans every registered server for the first eligible
// slot for (familyID, variantID, blockedSlotID), honoring any match
// roster lock. Scan order is not specified by the spec beyond "FIFO within
// a family queue"; this picks the first eligible slot encountered.
func (s *Service) findAvailableSlot(familyID, variantID, blockedSlotID, playerID string) *model.SlotRecord {
	var found *model.SlotRecord
	s.servers.ForEachServer(func(server *model.ServerRecord) {
		if found != nil {
			return
		}
		for _, slot := range server.Slots {
			if s.eligibleForPlayer(slot, familyID, variantID, blockedSlotID, playerID) {
				found = slot
				return
			}
		}
	})
	return found
}

// canSlotFitParty implements spec §4.4's party-capacity rule: remaining
// capacity >= n; if metadata["team.max"] is set, n <= team.max; if the
// slot is team-based (team count > 0), a free team must remain.
func (s *Service) canSlotFitParty(slot *model.SlotRecord, n int) bool {
	if slot.RemainingCapacity(s.pendingOccupancy[slot.SlotID]) < n {
		return false
	}
	if teamMaxStr := slot.Metadata["team.max"]; teamMaxStr != "" {
		teamMax, err := strconv.Atoi(teamMaxStr)
		if err == nil && teamMax > 0 && n > teamMax {
			return false
		}
	}
	teamCount := s.teamCount(slot)
	if teamCount > 0 {
		used := s.usedTeams(slot.SlotID)
		if len(used) >= teamCount {
			return false
		}
	}
	return true
}

// teamCount returns metadata["team.count"] if set, else
// maxPlayers/max(1,team.max).
func (s *Service) teamCount(slot *model.SlotRecord) int {
	if v := slot.Metadata["team.count"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	teamMax := 1
	if v := slot.Metadata["team.max"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			teamMax = n
		}
	}
	if slot.MaxPlayers == 0 {
		return 0
	}
	return slot.MaxPlayers / teamMax
}

// usedTeams returns the set of team indexes already occupied by an active
// allocation on slotID.
func (s *Service) usedTeams(slotID string) map[int]struct{} {
	used := make(map[int]struct{})
	for _, alloc := range s.activePartyReservations {
		if alloc.Released || alloc.SlotID != slotID || alloc.TeamIndex < 0 {
			continue
		}
		used[alloc.TeamIndex] = struct{}{}
	}
	return used
}

// lowestUnusedTeamIndex returns the smallest team index in [0, teamCount)
// not present in used, or -1 if all are occupied.
func lowestUnusedTeamIndex(teamCount int, used map[int]struct{}) int {
	for i := 0; i < teamCount; i++ {
		if _, ok := used[i]; !ok {
			return i
		}
	}
	return -1
}
