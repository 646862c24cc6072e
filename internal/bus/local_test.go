package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct {
	Value string `json:"value"`
}

func TestLocal_BroadcastDelivers(t *testing.T) {
	b := NewLocal()
	received := make(chan Envelope, 1)
	unsub := b.Subscribe("chan.a", func(ctx context.Context, env Envelope) {
		received <- env
	})
	defer unsub()

	require.NoError(t, b.Broadcast(context.Background(), "sender-1", "chan.a", "Ping", ping{Value: "hi"}))

	select {
	case env := <-received:
		var p ping
		require.NoError(t, env.Decode(&p))
		assert.Equal(t, "hi", p.Value)
		assert.Equal(t, "sender-1", env.SenderID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast delivery")
	}
}

func TestLocal_SendIsTargeted(t *testing.T) {
	b := NewLocal()
	var gotA, gotB bool
	b.Subscribe(TargetedChannel("chan.b", "target-a"), func(ctx context.Context, env Envelope) { gotA = true })
	b.Subscribe(TargetedChannel("chan.b", "target-b"), func(ctx context.Context, env Envelope) { gotB = true })

	require.NoError(t, b.Send(context.Background(), "sender-1", "target-a", "chan.b", "Ping", ping{}))

	assert.True(t, gotA)
	assert.False(t, gotB, "Send must not deliver to an unaddressed subscriber")
}

func TestLocal_RequestReply_RoundTrip(t *testing.T) {
	b := NewLocal()
	b.Subscribe(TargetedChannel("chan.c", "callee"), func(ctx context.Context, env Envelope) {
		var req ping
		_ = env.Decode(&req)
		err := b.Reply(ctx, "callee", env.SenderID, "chan.c", env.CorrelationID, "Pong", ping{Value: "pong:" + req.Value})
		require.NoError(t, err)
	})

	resp, err := b.Request(context.Background(), "caller", "callee", "chan.c", "Ping", ping{Value: "hi"}, time.Second)
	require.NoError(t, err)

	var p ping
	require.NoError(t, resp.Decode(&p))
	assert.Equal(t, "pong:hi", p.Value)
}

func TestLocal_Request_TimesOutWithoutReply(t *testing.T) {
	b := NewLocal()
	_, err := b.Request(context.Background(), "caller", "nobody-home", "chan.d", "Ping", ping{}, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLocal_Unsubscribe_StopsDelivery(t *testing.T) {
	b := NewLocal()
	calls := 0
	unsub := b.Subscribe("chan.e", func(ctx context.Context, env Envelope) { calls++ })

	require.NoError(t, b.Broadcast(context.Background(), "s", "chan.e", "Ping", ping{}))
	unsub()
	require.NoError(t, b.Broadcast(context.Background(), "s", "chan.e", "Ping", ping{}))

	assert.Equal(t, 1, calls)
}
