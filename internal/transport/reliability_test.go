package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReliabilityTrackAckRemovesPending(t *testing.T) {
	tr := newReliabilityTracker(10*time.Millisecond, 5*time.Millisecond, 3, nil)
	msg := mustMsg(t, PriorityNormal)
	tr.Track(msg)
	assert.Equal(t, 1, tr.Pending())

	tr.Ack(msg.Header.ID)
	assert.Equal(t, 0, tr.Pending())
}

func TestReliabilityScanRetriesThenDrops(t *testing.T) {
	tr := newReliabilityTracker(5*time.Millisecond, 5*time.Millisecond, 2, nil)
	msg := mustMsg(t, PriorityNormal)
	tr.Track(msg)

	time.Sleep(10 * time.Millisecond)
	retry, dropped := tr.Scan()
	require.Len(t, retry, 1)
	assert.Empty(t, dropped)
	assert.Equal(t, 1, retry[0].retries)

	time.Sleep(15 * time.Millisecond)
	retry, dropped = tr.Scan()
	require.Len(t, retry, 1)
	assert.Equal(t, 2, retry[0].retries)

	time.Sleep(25 * time.Millisecond)
	retry, dropped = tr.Scan()
	assert.Empty(t, retry)
	require.Len(t, dropped, 1)
	assert.Equal(t, 3, dropped[0].retries)
	assert.Equal(t, 0, tr.Pending())
}

func TestReliabilityScanBackoffDoubles(t *testing.T) {
	tr := newReliabilityTracker(5*time.Millisecond, 10*time.Millisecond, 5, nil)
	msg := mustMsg(t, PriorityNormal)
	tr.Track(msg)

	tr.mu.Lock()
	entry := tr.pending[msg.Header.ID]
	initialDelay := entry.nextDelay
	tr.mu.Unlock()

	time.Sleep(15 * time.Millisecond)
	_, _ = tr.Scan()

	tr.mu.Lock()
	entry = tr.pending[msg.Header.ID]
	nextDelay := entry.nextDelay
	tr.mu.Unlock()

	assert.Equal(t, initialDelay*2, nextDelay)
}
