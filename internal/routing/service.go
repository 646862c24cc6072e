// Package routing implements the Player Routing Service (spec §4.4), the
// centerpiece of the matchmaking core: per-request routing state machines,
// per-slot occupancy bookkeeping, per-family FIFO queues, party
// reservation allocation, match-roster locks, and the retry/timeout
// scheduler.
//
// All mutation of routing state happens on a single dedicated worker
// goroutine (spec §5's "single-writer scheduler"): every bus handler and
// timer callback enqueues a closure rather than touching state directly,
// so the maps below never need their own locks.
package routing

import (
	"context"
	"log/slog"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/atomic"

	"github.com/slotfabric/matchcore/internal/bus"
	"github.com/slotfabric/matchcore/internal/model"
	"github.com/slotfabric/matchcore/internal/provisioning"
)

// Channel names (spec §4.1 / §6 — exact wire contract).
const (
	ChanPlayerRequest           = "registry.player.request"
	ChanSlotStatus              = "registry.slot.status"
	ChanRouteCommand            = "player.route.command"
	ChanRouteAck                = "player.route.ack"
	ChanReservationRequest      = "player.reservation.request"
	ChanReservationResponse     = "player.reservation.response"
	ChanPartyReservationCreated = "party.reservation.created"
	ChanPartyReservationClaimed = "party.reservation.claimed"
	ChanMatchRosterCreated      = "match.roster.created"
	ChanMatchRosterEnded        = "match.roster.ended"
	ChanEnvironmentRouteRequest = "registry.environment.route.request"

	ChanServerPlayerRoute = "server.player.route" // targeted suffix <serverId>
)

// Retryable failure reasons (spec §4.4).
var retryableReasons = map[string]bool{
	"backend-not-found":         true,
	"backend-offline":           true,
	"connection-failed":         true,
	"slot-not-ready":            true,
	"route-transient":           true,
	"reservation-failed":        true,
	"reservation-rejected":      true,
	"reservation-missing-token": true,
}

// Config holds the routing service's configurable timeouts and limits
// (spec §4.4, §6).
type Config struct {
	RouteTimeout       time.Duration
	ReservationTimeout time.Duration
	MaxQueueWait       time.Duration
	MaxRouteRetries    int
}

// DefaultConfig returns spec.md's default constants.
func DefaultConfig() Config {
	return Config{
		RouteTimeout:       15 * time.Second,
		ReservationTimeout: 5 * time.Second,
		MaxQueueWait:       45 * time.Second,
		MaxRouteRetries:    3,
	}
}

// ServerSource is the read surface routing needs from the server registry
// (spec §9: break the routing↔registry↔provisioning cycle with narrow
// interfaces).
type ServerSource interface {
	Slot(slotID string) *model.SlotRecord
	Server(serverID string) *model.ServerRecord
	ForEachServer(fn func(*model.ServerRecord))
}

// ProxySource is the read surface routing needs from the proxy registry.
type ProxySource interface {
	Known(proxyID string) bool
}

// Provisioner is the write surface routing needs from the provisioning
// service.
type Provisioner interface {
	RequestProvision(ctx context.Context, familyID string, metadata map[string]string) provisioning.ProvisionResult
	ObserveAvailableSlot(familyID string)
}

// HandoffWriter is the write surface routing needs from the Session Handoff
// Store (spec §4.6): a record staged right before a ROUTE command goes out,
// so the backend confirms the incoming connection is expected.
type HandoffWriter interface {
	Put(rec model.HandoffRecord)
}

// Service is the Player Routing Service.
type Service struct {
	bus      bus.Bus
	senderID string
	servers  ServerSource
	proxies  ProxySource
	provisioner Provisioner
	handoffs HandoffWriter
	cfg      Config

	work chan func()
	stop chan struct{}

	pendingQueues              map[string]*deque.Deque // familyId -> *model.PlayerRequestContext
	inFlightRoutes             map[string]*model.InFlightRoute
	pendingOccupancy           map[string]int
	activePartyReservations    map[string]*model.PartyReservationAllocation
	pendingPartyReservations   map[string]*deque.Deque // familyId -> model.PartyReservationCreatedMessage
	pendingPartyPlayerRequests map[string]*deque.Deque // reservationId -> *model.PlayerRequestContext
	matchRosters               map[string]*model.MatchRosterSnapshot
	playerActiveSlots          map[string]string

	activeRequestIDs map[string]struct{} // requestIds currently queued/reserving/in-flight; dedups duplicate deliveries
	seenPartyIDs     map[string]struct{} // dedup of duplicate party.reservation.created deliveries

	// ready is read from outside the routing worker (health checks,
	// observability) so it can't live in the worker-only maps above.
	ready atomic.Bool

	unsubs []func()
}

// Ready reports whether the worker is accepting and processing bus
// traffic. Safe to call from any goroutine.
func (s *Service) Ready() bool { return s.ready.Load() }

// New creates a Player Routing Service. senderID identifies this process
// on the bus.
func New(b bus.Bus, senderID string, servers ServerSource, proxies ProxySource, provisioner Provisioner, cfg Config) *Service {
	return &Service{
		bus:         b,
		senderID:    senderID,
		servers:     servers,
		proxies:     proxies,
		provisioner: provisioner,
		cfg:         cfg,

		work: make(chan func(), 256),
		stop: make(chan struct{}),

		pendingQueues:              make(map[string]*deque.Deque),
		inFlightRoutes:             make(map[string]*model.InFlightRoute),
		pendingOccupancy:           make(map[string]int),
		activePartyReservations:    make(map[string]*model.PartyReservationAllocation),
		pendingPartyReservations:   make(map[string]*deque.Deque),
		pendingPartyPlayerRequests: make(map[string]*deque.Deque),
		matchRosters:               make(map[string]*model.MatchRosterSnapshot),
		playerActiveSlots:          make(map[string]string),
		activeRequestIDs:           make(map[string]struct{}),
		seenPartyIDs:               make(map[string]struct{}),
	}
}

// Start subscribes to every bus channel the routing service consumes and
// launches the single routing worker goroutine. Call Stop to shut down.
func (s *Service) Start(ctx context.Context) {
	s.unsubs = append(s.unsubs,
		s.bus.Subscribe(ChanPlayerRequest, s.onPlayerRequest),
		s.bus.Subscribe(ChanSlotStatus, s.onSlotStatus),
		s.bus.Subscribe(ChanRouteAck, s.onRouteAck),
		s.bus.Subscribe(ChanPartyReservationCreated, s.onPartyReservationCreated),
		s.bus.Subscribe(ChanPartyReservationClaimed, s.onPartyReservationClaimed),
		s.bus.Subscribe(ChanMatchRosterCreated, s.onMatchRosterCreated),
		s.bus.Subscribe(ChanMatchRosterEnded, s.onMatchRosterEnded),
		s.bus.Subscribe(ChanEnvironmentRouteRequest, s.onEnvironmentRouteRequest),
	)

	s.ready.Store(true)
	go s.runWorker(ctx)
}

// SetHandoffWriter wires the Session Handoff Store. Optional: if unset,
// dispatch simply skips writing a handoff record.
func (s *Service) SetHandoffWriter(w HandoffWriter) { s.handoffs = w }

// Stop unsubscribes from the bus and halts the worker. In-flight timers
// are not explicitly cancelled; they are harmless no-ops once the worker
// drains (spec §7: suspend accepting, let in-flight work finish or time
// out, then exit cleanly).
func (s *Service) Stop() {
	s.ready.Store(false)
	for _, unsub := range s.unsubs {
		unsub()
	}
	close(s.stop)
}

// enqueue schedules fn to run on the routing worker. Safe to call from any
// goroutine (bus handlers, timers).
func (s *Service) enqueue(fn func()) {
	select {
	case s.work <- fn:
	case <-s.stop:
	}
}

func (s *Service) runWorker(ctx context.Context) {
	for {
		select {
		case fn := <-s.work:
			s.guarded(fn)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// guarded runs fn with a recover so a bug in one transition never takes
// down the worker (spec §7: no exception crosses the routing worker).
func (s *Service) guarded(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("routing worker recovered panic", "recover", r)
		}
	}()
	fn()
}
