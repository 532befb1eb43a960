package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireRoundTrip(t *testing.T) {
	msg, err := newMessage("a", "b", TypeTaskExecution, map[string]interface{}{"x": 1.0, "y": "hi"}, PriorityHigh, DeliveryReliable, time.Minute, CompressionGzip)
	require.NoError(t, err)

	wire, err := ToWire(msg)
	require.NoError(t, err)

	decoded, err := FromWire(wire)
	require.NoError(t, err)

	assert.Equal(t, msg.Header.ID, decoded.Header.ID)
	assert.Equal(t, msg.Header.Checksum, decoded.Header.Checksum)
	assert.Equal(t, msg.Payload, decoded.Payload)
	assert.True(t, decoded.VerifyChecksum())
}

func TestWireRoundTripNoCompression(t *testing.T) {
	msg, err := newMessage("a", "b", TypeTaskExecution, map[string]interface{}{"n": 42.0}, PriorityNormal, DeliveryBestEffort, 0, CompressionNone)
	require.NoError(t, err)

	wire, err := ToWire(msg)
	require.NoError(t, err)
	decoded, err := FromWire(wire)
	require.NoError(t, err)
	assert.Equal(t, msg.Payload, decoded.Payload)
}

func TestChecksumDetectsTampering(t *testing.T) {
	msg, err := newMessage("a", "b", TypeTaskExecution, map[string]interface{}{"x": 1.0}, PriorityNormal, DeliveryBestEffort, 0, CompressionNone)
	require.NoError(t, err)
	assert.True(t, msg.VerifyChecksum())

	msg.Payload["x"] = 2.0
	assert.False(t, msg.VerifyChecksum())
}

func TestMessageExpired(t *testing.T) {
	msg, err := newMessage("a", "b", TypeTaskExecution, nil, PriorityNormal, DeliveryBestEffort, 10*time.Millisecond, CompressionNone)
	require.NoError(t, err)
	assert.False(t, msg.Expired(time.Now()))
	assert.True(t, msg.Expired(time.Now().Add(20*time.Millisecond)))
}

func TestMessageNoTTLNeverExpires(t *testing.T) {
	msg, err := newMessage("a", "b", TypeTaskExecution, nil, PriorityNormal, DeliveryBestEffort, 0, CompressionNone)
	require.NoError(t, err)
	assert.False(t, msg.Expired(time.Now().Add(24*time.Hour)))
}
