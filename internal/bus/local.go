package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Local is a process-local Bus backed by an in-memory subscriber table.
// Suitable for tests and single-process deployments. Handlers are invoked
// synchronously on the caller's goroutine for Send/Broadcast (the caller —
// typically a bus-owned dispatch pool — is expected to enqueue onto its own
// worker if it needs serialized handling; see routing.Service).
type Local struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]Handler
	nextSubID   atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]chan Envelope // correlationId -> waiter
}

// NewLocal creates an empty in-process bus.
func NewLocal() *Local {
	return &Local{
		subscribers: make(map[string]map[int64]Handler),
		pending:     make(map[string]chan Envelope),
	}
}

// Subscribe implements Bus.
func (b *Local) Subscribe(channel string, handler Handler) func() {
	id := b.nextSubID.Add(1)

	b.mu.Lock()
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[int64]Handler)
	}
	b.subscribers[channel][id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers[channel], id)
		b.mu.Unlock()
	}
}

func (b *Local) deliver(ctx context.Context, channel string, env Envelope) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[channel]))
	for _, h := range b.subscribers[channel] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("bus handler panic", "channel", channel, "type", env.Type, "recover", r)
				}
			}()
			h(ctx, env)
		}()
	}

	if env.CorrelationID != "" {
		b.pendingMu.Lock()
		waiter, ok := b.pending[env.CorrelationID]
		b.pendingMu.Unlock()
		if ok {
			select {
			case waiter <- env:
			default:
			}
		}
	}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return raw, nil
	}
}

func (b *Local) envelope(senderID, msgType, correlationID string, payload any) (Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		SenderID:      senderID,
		MessageID:     NewMessageID(),
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
		Type:          msgType,
		Payload:       raw,
	}, nil
}

// Broadcast implements Bus.
func (b *Local) Broadcast(ctx context.Context, senderID, channel, msgType string, payload any) error {
	env, err := b.envelope(senderID, msgType, "", payload)
	if err != nil {
		return err
	}
	b.deliver(ctx, channel, env)
	return nil
}

// Send implements Bus.
func (b *Local) Send(ctx context.Context, senderID, targetID, channel, msgType string, payload any) error {
	env, err := b.envelope(senderID, msgType, "", payload)
	if err != nil {
		return err
	}
	b.deliver(ctx, TargetedChannel(channel, targetID), env)
	return nil
}

// Reply implements Bus.
func (b *Local) Reply(ctx context.Context, senderID, targetID, channel string, correlationID, msgType string, payload any) error {
	env, err := b.envelope(senderID, msgType, correlationID, payload)
	if err != nil {
		return err
	}
	b.deliver(ctx, TargetedChannel(channel, targetID), env)
	return nil
}

// Request implements Bus.
func (b *Local) Request(ctx context.Context, senderID, targetID, channel, msgType string, payload any, timeout time.Duration) (Envelope, error) {
	correlationID := NewMessageID()
	waiter := make(chan Envelope, 1)

	b.pendingMu.Lock()
	b.pending[correlationID] = waiter
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, correlationID)
		b.pendingMu.Unlock()
	}()

	env, err := b.envelope(senderID, msgType, correlationID, payload)
	if err != nil {
		return Envelope{}, err
	}
	b.deliver(ctx, TargetedChannel(channel, targetID), env)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		return resp, nil
	case <-timer.C:
		return Envelope{}, ErrTimeout
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}
