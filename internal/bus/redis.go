package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Redis is a Bus backed by go-redis pub/sub — the "key/value pub/sub
// store" the spec names as the transport for a real multi-process
// deployment (proxies, backends and the registry each run as separate
// processes and cannot share an in-process Local bus).
type Redis struct {
	client *goredis.Client

	mu   sync.Mutex
	subs map[string]*goredis.PubSub // channel -> active subscription
}

// NewRedis wires a Bus on top of an already-connected redis client.
func NewRedis(client *goredis.Client) *Redis {
	return &Redis{
		client: client,
		subs:   make(map[string]*goredis.PubSub),
	}
}

// Subscribe implements Bus. Each call opens its own PubSub connection and
// a goroutine forwarding messages to handler; returns an unsubscribe
// closing that connection.
func (r *Redis) Subscribe(channel string, handler Handler) func() {
	ps := r.client.Subscribe(context.Background(), channel)
	done := make(chan struct{})

	go func() {
		ch := ps.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					slog.Error("bus: decoding envelope", "channel", channel, "error", err)
					continue
				}
				func() {
					defer func() {
						if rec := recover(); rec != nil {
							slog.Error("bus handler panic", "channel", channel, "type", env.Type, "recover", rec)
						}
					}()
					handler(context.Background(), env)
				}()
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		ps.Close()
	}
}

func (r *Redis) publish(ctx context.Context, channel string, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := r.client.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) envelope(senderID, msgType, correlationID string, payload any) (Envelope, error) {
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
func (r *Redis) Broadcast(ctx context.Context, senderID, channel, msgType string, payload any) error {
	env, err := r.envelope(senderID, msgType, "", payload)
	if err != nil {
		return err
	}
	return r.publish(ctx, channel, env)
}

// Send implements Bus.
func (r *Redis) Send(ctx context.Context, senderID, targetID, channel, msgType string, payload any) error {
	env, err := r.envelope(senderID, msgType, "", payload)
	if err != nil {
		return err
	}
	return r.publish(ctx, TargetedChannel(channel, targetID), env)
}

// Reply implements Bus.
func (r *Redis) Reply(ctx context.Context, senderID, targetID, channel string, correlationID, msgType string, payload any) error {
	env, err := r.envelope(senderID, msgType, correlationID, payload)
	if err != nil {
		return err
	}
	return r.publish(ctx, TargetedChannel(channel, targetID), env)
}

// Request implements Bus: it subscribes to the requester's own targeted
// channel (channel:senderID), publishes the request to channel:targetID,
// and waits for the first envelope matching correlationId delivered on the
// requester's channel. The callee replies via Reply with the requester's
// senderID as its targetID, so the reply lands on that channel.
func (r *Redis) Request(ctx context.Context, senderID, targetID, channel, msgType string, payload any, timeout time.Duration) (Envelope, error) {
	correlationID := NewMessageID()
	replyChannel := TargetedChannel(channel, senderID)

	ps := r.client.Subscribe(ctx, replyChannel)
	defer ps.Close()

	env, err := r.envelope(senderID, msgType, correlationID, payload)
	if err != nil {
		return Envelope{}, err
	}
	if err := r.publish(ctx, TargetedChannel(channel, targetID), env); err != nil {
		return Envelope{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	msgCh := ps.Channel()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return Envelope{}, ErrTimeout
			}
			var resp Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
				continue
			}
			if resp.CorrelationID == correlationID {
				return resp, nil
			}
		case <-timer.C:
			return Envelope{}, ErrTimeout
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
}
