package model

// Messages exchanged over the bus (spec §6). Fields are tagged for
// encoding/json; unknown fields are ignored by the decoder and required
// fields are validated by each handler after unmarshal (spec: "unknown
// fields ignored; required fields must be present & non-blank").

// PlayerSlotRequest is published on registry.player.request.
type PlayerSlotRequest struct {
	RequestID  string            `json:"requestId"`
	PlayerID   string            `json:"playerId"`
	PlayerName string            `json:"playerName"`
	ProxyID    string            `json:"proxyId"`
	FamilyID   string            `json:"familyId"`
	Metadata   map[string]string `json:"metadata"`
}

// Recognized metadata keys on PlayerSlotRequest.
const (
	MetaCurrentSlotID      = "currentSlotId"
	MetaVariant            = "variant"
	MetaFamilyVariant      = "familyVariant"
	MetaGameType           = "gameType"
	MetaPartyReservationID = "partyReservationId"
	MetaPartyTokenID       = "partyTokenId"
)

// PlayerReservationRequest is sent (targeted) on player.reservation.request.
type PlayerReservationRequest struct {
	RequestID  string            `json:"requestId"`
	PlayerID   string            `json:"playerId"`
	PlayerName string            `json:"playerName"`
	ProxyID    string            `json:"proxyId"`
	ServerID   string            `json:"serverId"`
	SlotID     string            `json:"slotId"`
	Metadata   map[string]string `json:"metadata"`
}

// PlayerReservationResponse answers a PlayerReservationRequest.
type PlayerReservationResponse struct {
	RequestID        string `json:"requestId"`
	ServerID         string `json:"serverId"`
	Accepted         bool   `json:"accepted"`
	ReservationToken string `json:"reservationToken,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// RouteAction discriminates a PlayerRouteCommand.
type RouteAction string

const (
	RouteActionRoute      RouteAction = "ROUTE"
	RouteActionDisconnect RouteAction = "DISCONNECT"
)

// PlayerRouteCommand is broadcast to "player.route.command:<proxyId>" and
// "server.player.route:<serverId>".
type PlayerRouteCommand struct {
	Action      RouteAction       `json:"action"`
	RequestID   string            `json:"requestId"`
	PlayerID    string            `json:"playerId"`
	PlayerName  string            `json:"playerName"`
	ProxyID     string            `json:"proxyId"`
	ServerID    string            `json:"serverId,omitempty"`
	SlotID      string            `json:"slotId,omitempty"`
	SlotSuffix  string            `json:"slotSuffix,omitempty"`
	TargetWorld string            `json:"targetWorld,omitempty"`
	SpawnX      float64           `json:"spawnX"`
	SpawnY      float64           `json:"spawnY"`
	SpawnZ      float64           `json:"spawnZ"`
	SpawnYaw    float64           `json:"spawnYaw"`
	SpawnPitch  float64           `json:"spawnPitch"`
	Metadata    map[string]string `json:"metadata"`
}

// RouteAckStatus discriminates a PlayerRouteAck.
type RouteAckStatus string

const (
	RouteAckSuccess RouteAckStatus = "SUCCESS"
	RouteAckFailed  RouteAckStatus = "FAILED"
)

// PlayerRouteAck is published on player.route.ack.
type PlayerRouteAck struct {
	RequestID string         `json:"requestId"`
	PlayerID  string         `json:"playerId"`
	ProxyID   string         `json:"proxyId"`
	ServerID  string         `json:"serverId,omitempty"`
	SlotID    string         `json:"slotId,omitempty"`
	Status    RouteAckStatus `json:"status"`
	Reason    string         `json:"reason,omitempty"`
}

// Valid reports whether the ack satisfies spec §6's validation rule: on
// SUCCESS, serverId and slotId must be non-blank.
func (a PlayerRouteAck) Valid() bool {
	if a.Status == RouteAckSuccess {
		return a.ServerID != "" && a.SlotID != ""
	}
	return true
}

// ServerRegistrationRequest is sent on server.registration.request.
type ServerRegistrationRequest struct {
	TempID      string `json:"tempId"`
	Type        string `json:"type"`
	Role        string `json:"role"`
	Address     string `json:"address"`
	Port        int    `json:"port"`
	MaxCapacity int    `json:"maxCapacity"`
}

// ServerRegistrationResponse answers a ServerRegistrationRequest.
type ServerRegistrationResponse struct {
	Success          bool   `json:"success"`
	Reason           string `json:"reason,omitempty"`
	AssignedServerID string `json:"assignedServerId,omitempty"`
	ProxyID          string `json:"proxyId,omitempty"`
}

// ServerHeartbeatMessage is published on server.heartbeat.
type ServerHeartbeatMessage struct {
	ServerID    string  `json:"serverId"`
	TPS         float64 `json:"tps"`
	PlayerCount int     `json:"playerCount"`
	MaxCapacity int     `json:"maxCapacity"`
	Uptime      int64   `json:"uptime"`
}

// ServerRemovalMessage is published on server.removal.
type ServerRemovalMessage struct {
	ServerID string `json:"serverId"`
	Reason   string `json:"reason"`
}

// SlotStatusUpdateMessage is published on registry.slot.status.
type SlotStatusUpdateMessage struct {
	ServerID      string            `json:"serverId"`
	SlotID        string            `json:"slotId"`
	SlotSuffix    string            `json:"slotSuffix"`
	GameType      string            `json:"gameType"`
	Status        SlotStatus        `json:"status"`
	MaxPlayers    int               `json:"maxPlayers"`
	OnlinePlayers int               `json:"onlinePlayers"`
	Metadata      map[string]string `json:"metadata"`
}

// SlotFamilyAdvertisementMessage is published on slot.family.advertisement.
type SlotFamilyAdvertisementMessage struct {
	ServerID           string `json:"serverId"`
	FamilyID           string `json:"familyId"`
	AdvertisedCapacity int    `json:"advertisedCapacity"`
	CurrentSlotCount   int    `json:"currentSlotCount"`
}

// SlotProvisionCommand is sent (targeted) on slot.provision.command.
type SlotProvisionCommand struct {
	FamilyID string            `json:"familyId"`
	Metadata map[string]string `json:"metadata"`
}

// Recognized metadata keys on SlotProvisionCommand.
const (
	ProvisionMetaPartySize          = "partySize"
	ProvisionMetaVariant            = "variant"
	ProvisionMetaPartyReservationID = "partyReservationId"
)

// ProxyAnnounceMessage is published on proxy.announce.
type ProxyAnnounceMessage struct {
	ProxyID string `json:"proxyId"`
	Address string `json:"address"`
	HardCap int    `json:"hardCap"`
	SoftCap int    `json:"softCap"`
}

// ProxyHeartbeatMessage is published on proxy.heartbeat.
type ProxyHeartbeatMessage struct {
	ProxyID            string `json:"proxyId"`
	CurrentPlayerCount int    `json:"currentPlayerCount"`
}

// ProxyShutdownMessage is published on proxy.shutdown.
type ProxyShutdownMessage struct {
	ProxyID string `json:"proxyId"`
}

// ProxyInfo appears in ProxyDiscoveryResponse. Type is MIXED when the
// publishing proxy predates the field (spec §9 open question).
type ProxyInfo struct {
	ProxyID string `json:"proxyId"`
	Address string `json:"address"`
	Type    string `json:"type,omitempty"`
}

// NormalizedType returns Type, defaulting to MIXED when blank.
func (p ProxyInfo) NormalizedType() string {
	if p.Type == "" {
		return "MIXED"
	}
	return p.Type
}

// PartyReservationSnapshot is the public, cross-process view of a party
// reservation allocation.
type PartyReservationSnapshot struct {
	ReservationID     string            `json:"reservationId"`
	PartyID           string            `json:"partyId"`
	TargetServerID    string            `json:"targetServerId,omitempty"`
	Tokens            map[string]string `json:"tokens"` // playerId -> tokenId
	VariantID         string            `json:"variantId,omitempty"`
	AssignedTeamIndex int               `json:"assignedTeamIndex"` // -1 if unset
}

// PartyReservationCreatedMessage is published on party.reservation.created.
type PartyReservationCreatedMessage struct {
	Reservation PartyReservationSnapshot `json:"reservation"`
	FamilyID    string                   `json:"familyId"`
	VariantID   string                   `json:"variantId,omitempty"`
}

// PartyReservationClaimedMessage is published on party.reservation.claimed.
type PartyReservationClaimedMessage struct {
	ReservationID string `json:"reservationId"`
	PlayerID      string `json:"playerId"`
	Success       bool   `json:"success"`
	Reason        string `json:"reason,omitempty"`
}

// MatchRosterCreatedMessage is published on match.roster.created.
type MatchRosterCreatedMessage struct {
	SlotID  string   `json:"slotId"`
	MatchID string   `json:"matchId"`
	Players []string `json:"players"`
}

// MatchRosterEndedMessage is published on match.roster.ended.
type MatchRosterEndedMessage struct {
	SlotID string `json:"slotId"`
}

// EnvironmentFailureMode discriminates behavior when an environment route
// has no eligible target.
type EnvironmentFailureMode string

const (
	FailureModeKickOnFail EnvironmentFailureMode = "KICK_ON_FAIL"
	FailureModeIgnore     EnvironmentFailureMode = "IGNORE"
)

// SpawnPoint is an x/y/z/yaw/pitch tuple used by environment routes.
type SpawnPoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// EnvironmentRouteRequest is published on
// registry.environment.route.request.
type EnvironmentRouteRequest struct {
	RequestID           string                 `json:"requestId"`
	PlayerID            string                 `json:"playerId"`
	ProxyID             string                 `json:"proxyId"`
	TargetEnvironmentID string                 `json:"targetEnvironmentId"`
	TargetServerID      string                 `json:"targetServerId,omitempty"`
	WorldName           string                 `json:"worldName,omitempty"`
	Spawn               SpawnPoint             `json:"spawn"`
	FailureMode         EnvironmentFailureMode `json:"failureMode"`
}
