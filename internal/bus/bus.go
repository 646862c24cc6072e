// Package bus implements the Message Bus contract (spec §4.1): typed
// publish/subscribe with envelope metadata and request/response
// correlation. Two transports satisfy the same interface — an in-process
// one (bus.Local) for tests and single-process deployments, and a
// Redis-backed one (bus.Redis) for a real multi-process deployment.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every message delivered to a handler.
type Envelope struct {
	SenderID      string          `json:"senderId"`
	MessageID     string          `json:"messageId"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler processes one delivered envelope. Handlers must be idempotent —
// delivery is at-least-once for broadcast and best-effort for send (spec
// §4.1).
type Handler func(ctx context.Context, env Envelope)

// ErrTimeout is returned by Request when no correlated response arrives
// within the given timeout.
var ErrTimeout = errTimeout{}

type errTimeout struct{}

func (errTimeout) Error() string { return "timeout" }

// Bus is the process-wide message fabric every core component is wired
// through. SenderID identifies the publishing process (a registry, a
// routing service instance, a backend, a proxy).
type Bus interface {
	// Broadcast fans payload out to every subscriber of channel,
	// process-wide.
	Broadcast(ctx context.Context, senderID, channel, msgType string, payload any) error
	// Send delivers payload only to the process identified by targetID.
	Send(ctx context.Context, senderID, targetID, channel, msgType string, payload any) error
	// Request sends payload then awaits a correlated response on the same
	// channel, failing with ErrTimeout after timeout elapses.
	Request(ctx context.Context, senderID, targetID, channel, msgType string, payload any, timeout time.Duration) (Envelope, error)
	// Reply answers a Request by correlationId, addressed back to the
	// requester via Send.
	Reply(ctx context.Context, senderID, targetID, channel string, correlationID, msgType string, payload any) error
	// Subscribe registers handler for channel and returns an unsubscribe
	// function.
	Subscribe(channel string, handler Handler) (unsubscribe func())
}

// TargetedChannel returns the per-target channel name used by Send, e.g.
// "player.route.command:<proxyId>".
func TargetedChannel(channel, targetID string) string {
	return channel + ":" + targetID
}

// NewMessageID returns a fresh canonical UUID string for envelope message
// IDs and correlation IDs.
func NewMessageID() string {
	return uuid.NewString()
}
