package routing

import (
	"time"

	"github.com/slotfabric/matchcore/internal/model"
)

// handleMatchRosterCreated locks slotId to the roster's player set and
// records each roster member's active slot (spec §4.4: a roster-locked slot
// only accepts its own members — used on reconnect/re-route).
func (s *Service) handleMatchRosterCreated(msg model.MatchRosterCreatedMessage) {
	players := make(map[string]struct{}, len(msg.Players))
	for _, p := range msg.Players {
		players[p] = struct{}{}
		s.playerActiveSlots[p] = msg.SlotID
	}
	s.matchRosters[msg.SlotID] = &model.MatchRosterSnapshot{
		MatchID:   msg.MatchID,
		Players:   players,
		UpdatedAt: time.Now(),
	}
}

// handleMatchRosterEnded releases the roster lock on a slot and clears the
// playerActiveSlots entries it held.
func (s *Service) handleMatchRosterEnded(msg model.MatchRosterEndedMessage) {
	roster, ok := s.matchRosters[msg.SlotID]
	if !ok {
		return
	}
	for playerID := range roster.Players {
		if s.playerActiveSlots[playerID] == msg.SlotID {
			delete(s.playerActiveSlots, playerID)
		}
	}
	delete(s.matchRosters, msg.SlotID)
}
