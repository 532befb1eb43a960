package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(Config{
		QueueCapacity: 16, AckTimeout: 20 * time.Millisecond, RetryDelay: 10 * time.Millisecond,
		MaxRetries: 3, ReliabilityCheckInterval: 10 * time.Millisecond,
	}, nil)
}

func TestTransportSendReceiveBestEffort(t *testing.T) {
	hub := newTestHub()
	a := hub.NewTransport("a")
	b := hub.NewTransport("b")

	_, err := a.Send("b", TypeStatusUpdate, map[string]interface{}{"ping": true}, PriorityNormal, DeliveryBestEffort, 0, CompressionNone)
	require.NoError(t, err)
	a.PumpOutboundOnce()

	msg, ok := b.Receive(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, true, msg.Payload["ping"])
}

func TestTransportChecksumMismatchDropsMessage(t *testing.T) {
	hub := newTestHub()
	b := hub.NewTransport("b")

	msg, err := newMessage("a", "b", TypeStatusUpdate, map[string]interface{}{"x": 1.0}, PriorityNormal, DeliveryBestEffort, 0, CompressionNone)
	require.NoError(t, err)
	msg.Header.Checksum = "tampered"
	b.DeliverInbound(msg)

	b.PumpOnce(context.Background())
	assert.EqualValues(t, 1, b.Stats().ChecksumFailures)
}

func TestTransportAutoAckOnReliableDelivery(t *testing.T) {
	hub := newTestHub()
	a := hub.NewTransport("a")
	b := hub.NewTransport("b")

	_, err := a.Send("b", TypeStatusUpdate, map[string]interface{}{}, PriorityNormal, DeliveryReliable, time.Minute, CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, 1, a.reliability.Pending())

	a.PumpOutboundOnce()
	b.PumpOnce(context.Background())
	b.PumpOutboundOnce()
	a.PumpOnce(context.Background())

	assert.Equal(t, 0, a.reliability.Pending())
}

func TestTransportRequestResponseRoundTrip(t *testing.T) {
	hub := newTestHub()
	a := hub.NewTransport("a")
	b := hub.NewTransport("b")

	b.RegisterHandler(TypeTaskExecution, func(ctx context.Context, msg *Message) error {
		return b.Reply(msg, map[string]interface{}{"success": true, "result": "done"})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Run(ctx)
	b.Run(ctx)

	resp, err := a.RequestResponse(context.Background(), "b", map[string]interface{}{"task_id": "t1"}, PriorityNormal, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Payload["result"])
}

func TestTransportRequestResponseTimesOut(t *testing.T) {
	hub := newTestHub()
	a := hub.NewTransport("a")
	_ = hub.NewTransport("b") // never registers a handler

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Run(ctx)

	_, err := a.RequestResponse(context.Background(), "b", map[string]interface{}{}, PriorityNormal, 30*time.Millisecond)
	assert.Error(t, err)
}

func TestTransportExpiredMessageDropped(t *testing.T) {
	hub := newTestHub()
	a := hub.NewTransport("a")
	b := hub.NewTransport("b")

	_, err := a.Send("b", TypeStatusUpdate, map[string]interface{}{}, PriorityNormal, DeliveryBestEffort, 5*time.Millisecond, CompressionNone)
	require.NoError(t, err)
	a.PumpOutboundOnce()

	time.Sleep(15 * time.Millisecond)
	b.PumpOnce(context.Background())
	assert.EqualValues(t, 1, b.Stats().ExpiredDropped)
}

func TestTransportRetriesThenExhausts(t *testing.T) {
	hub := NewHub(Config{
		QueueCapacity: 16, AckTimeout: 5 * time.Millisecond, RetryDelay: 5 * time.Millisecond,
		MaxRetries: 1, ReliabilityCheckInterval: 5 * time.Millisecond,
	}, nil)
	a := hub.NewTransport("a")
	_ = hub.NewTransport("ghost") // exists but never acks anything (a's outbound is never pumped to it)

	_, err := a.Send("ghost", TypeStatusUpdate, map[string]interface{}{}, PriorityNormal, DeliveryReliable, time.Minute, CompressionNone)
	require.NoError(t, err)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		a.ReliabilityScanOnce()
		if a.Stats().RetriesExhausted > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.EqualValues(t, 1, a.Stats().RetriesExhausted)
}

func TestTransportBroadcastSkipsSelf(t *testing.T) {
	hub := newTestHub()
	a := hub.NewTransport("a")
	hub.NewTransport("b")
	hub.NewTransport("c")

	errs := a.Broadcast(TypeStatusUpdate, map[string]interface{}{}, nil, PriorityNormal)
	assert.Empty(t, errs)
	assert.EqualValues(t, 2, a.Stats().Sent)
}
