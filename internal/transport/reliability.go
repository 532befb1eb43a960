package transport

import (
	"sync"
	"time"

	"github.com/agentsys/orchestrator/pkg/logging"
)

// pendingEntry is one in-flight reliable or request_response send awaiting
// an acknowledgement.
type pendingEntry struct {
	msg        *Message
	firstSeen  time.Time
	lastSent   time.Time
	retries    int
	nextDelay  time.Duration
}

// reliabilityTracker retries un-acked reliable/request_response sends and
// drops them after max_retries, surfacing an error event. Grounded on the
// teacher's executeWithRetry (orchestration/redis_execution_store.go):
// a retry counter paired with a growing delay, doubling after each
// attempt and logged at each step, adapted here from a single blocking
// retry loop into entries scanned periodically by a background task.
type reliabilityTracker struct {
	mu         sync.Mutex
	pending    map[string]*pendingEntry
	ackTimeout time.Duration
	retryDelay time.Duration
	maxRetries int
	logger     logging.Logger
}

func newReliabilityTracker(ackTimeout, retryDelay time.Duration, maxRetries int, logger logging.Logger) *reliabilityTracker {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &reliabilityTracker{
		pending:    map[string]*pendingEntry{},
		ackTimeout: ackTimeout,
		retryDelay: retryDelay,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Track begins tracking msg for acknowledgement.
func (t *reliabilityTracker) Track(msg *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.pending[msg.Header.ID] = &pendingEntry{msg: msg, firstSeen: now, lastSent: now, nextDelay: t.retryDelay}
}

// Ack stops tracking a message once its acknowledgement arrives.
func (t *reliabilityTracker) Ack(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, messageID)
}

// retryCandidate is a message due for re-send, with its new retry count.
type retryCandidate struct {
	msg     *Message
	retries int
}

// droppedEntry is a message that exhausted max_retries without an ack.
type droppedEntry struct {
	msg     *Message
	retries int
}

// Scan finds every pending entry older than its required wait, advances
// its retry count, and returns the ones to re-send versus the ones to drop
// (those that have now exceeded maxRetries). Called periodically by the
// Transport's reliability checker background task.
func (t *reliabilityTracker) Scan() (toRetry []retryCandidate, dropped []droppedEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for id, entry := range t.pending {
		required := t.ackTimeout
		if entry.retries > 0 && entry.nextDelay > required {
			required = entry.nextDelay
		}
		if now.Sub(entry.lastSent) < required {
			continue
		}
		entry.retries++
		if entry.retries > t.maxRetries {
			dropped = append(dropped, droppedEntry{msg: entry.msg, retries: entry.retries})
			delete(t.pending, id)
			continue
		}
		entry.lastSent = now
		entry.msg.Header.Timestamp = now
		entry.nextDelay *= 2 // doubling backoff between successive retries
		toRetry = append(toRetry, retryCandidate{msg: entry.msg, retries: entry.retries})
	}
	return toRetry, dropped
}

// Pending returns the number of messages currently awaiting acknowledgement.
func (t *reliabilityTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
