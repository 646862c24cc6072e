// Package provisioning implements the Slot Provisioning Service (spec
// §4.3): selecting a backend advertising a requested family and asking it
// to provision a new slot, throttled so at most one provision is
// outstanding per family at a time.
package provisioning

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/slotfabric/matchcore/internal/model"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/slotfabric/matchcore/internal/bus"
)

// provisionRetryRate caps how often a single family may trigger a new
// provision command — singleflight only dedups concurrent callers, it
// doesn't stop a hot family from re-requesting every time its queue is
// re-scanned.
const provisionRetryRate = 1.0 // per second, burst 1

// advertisement is one server's claim to serve a family.
type advertisement struct {
	serverID           string
	advertisedCapacity int
	currentSlotCount   int
}

// Service selects an eligible backend for a family and sends it a
// slot.provision.command.
type Service struct {
	bus      bus.Bus
	senderID string

	serverOf func(serverID string) *model.ServerRecord

	mu              sync.Mutex
	advertisements  map[string]map[string]*advertisement // familyId -> serverId -> ad
	inFlight        map[string]bool                       // familyId -> throttle flag
	limiters        map[string]*rate.Limiter              // familyId -> retry limiter
	group           singleflight.Group
}

// NewService creates a provisioning service. serverOf resolves a server ID
// to its current record (status, heartbeat) — normally
// registry.ServerRegistry.Server.
func NewService(b bus.Bus, senderID string, serverOf func(string) *model.ServerRecord) *Service {
	return &Service{
		bus:            b,
		senderID:       senderID,
		serverOf:       serverOf,
		advertisements: make(map[string]map[string]*advertisement),
		inFlight:       make(map[string]bool),
		limiters:       make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the retry limiter for familyId, creating one on first
// use.
func (s *Service) limiterFor(familyID string) *rate.Limiter {
	if l, ok := s.limiters[familyID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(provisionRetryRate), 1)
	s.limiters[familyID] = l
	return l
}

// HandleAdvertisement records a server's advertised family capacity.
func (s *Service) HandleAdvertisement(msg model.SlotFamilyAdvertisementMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advertisements[msg.FamilyID] == nil {
		s.advertisements[msg.FamilyID] = make(map[string]*advertisement)
	}
	s.advertisements[msg.FamilyID][msg.ServerID] = &advertisement{
		serverID:           msg.ServerID,
		advertisedCapacity: msg.AdvertisedCapacity,
		currentSlotCount:   msg.CurrentSlotCount,
	}
}

// ObserveAvailableSlot clears the in-flight throttle flag for a family once
// an AVAILABLE slot for it is observed (spec §4.3).
func (s *Service) ObserveAvailableSlot(familyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, familyID)
}

// ProvisionResult is the outcome of RequestProvision.
type ProvisionResult struct {
	ServerID string
	Ok       bool
}

// RequestProvision chooses a backend advertising familyId that is
// RUNNING/AVAILABLE and not over its advertised per-family concurrent slot
// limit, tie-breaking on lowest currentSlotCount/advertisedCapacity ratio
// then oldest lastHeartbeatAt. Returns Ok=false if nothing is eligible, a
// provision for this family is already outstanding, or the family's retry
// limiter (one request per second) denies the attempt.
func (s *Service) RequestProvision(ctx context.Context, familyID string, metadata map[string]string) ProvisionResult {
	s.mu.Lock()
	if s.inFlight[familyID] {
		s.mu.Unlock()
		return ProvisionResult{}
	}
	if !s.limiterFor(familyID).Allow() {
		s.mu.Unlock()
		return ProvisionResult{}
	}
	candidates := make([]*advertisement, 0, len(s.advertisements[familyID]))
	for _, ad := range s.advertisements[familyID] {
		candidates = append(candidates, ad)
	}
	s.mu.Unlock()

	v, _, _ := s.group.Do(familyID, func() (any, error) {
		chosen := s.selectEligible(candidates)
		if chosen == "" {
			return "", nil
		}

		s.mu.Lock()
		s.inFlight[familyID] = true
		s.mu.Unlock()

		if err := s.bus.Send(ctx, s.senderID, chosen, "slot.provision.command", "SlotProvisionCommand",
			model.SlotProvisionCommand{FamilyID: familyID, Metadata: metadata}); err != nil {
			slog.Error("sending provision command", "family", familyID, "server", chosen, "error", err)
			s.mu.Lock()
			delete(s.inFlight, familyID)
			s.mu.Unlock()
			return "", nil
		}
		slog.Info("provision requested", "family", familyID, "server", chosen)
		return chosen, nil
	})

	chosen, _ := v.(string)
	if chosen == "" {
		return ProvisionResult{}
	}
	return ProvisionResult{ServerID: chosen, Ok: true}
}

func (s *Service) selectEligible(candidates []*advertisement) string {
	type scored struct {
		ad            *advertisement
		server        *model.ServerRecord
		ratio         float64
	}
	var eligible []scored
	for _, ad := range candidates {
		server := s.serverOf(ad.serverID)
		if server == nil {
			continue
		}
		if server.Status != model.ServerRunning && server.Status != model.ServerAvailable {
			continue
		}
		if ad.advertisedCapacity > 0 && ad.currentSlotCount >= ad.advertisedCapacity {
			continue
		}
		ratio := 0.0
		if ad.advertisedCapacity > 0 {
			ratio = float64(ad.currentSlotCount) / float64(ad.advertisedCapacity)
		}
		eligible = append(eligible, scored{ad: ad, server: server, ratio: ratio})
	}
	if len(eligible) == 0 {
		return ""
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].ratio != eligible[j].ratio {
			return eligible[i].ratio < eligible[j].ratio
		}
		return eligible[i].server.LastHeartbeatAt.Before(eligible[j].server.LastHeartbeatAt)
	})
	return eligible[0].ad.serverID
}
