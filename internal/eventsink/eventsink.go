// Package eventsink fans the orchestrator's event stream out to multiple
// subscribers and, optionally, persists it to a Redis stream. Grounded on
// the teacher's redis_execution_store.go connection and key-prefix pattern
// -- adapted from a debug-record store keyed by execution id into an
// append-only stream keyed by session id, since events here are a live feed
// rather than a lookup-by-id record.
package eventsink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agentsys/orchestrator/internal/orchestrator"
	"github.com/agentsys/orchestrator/pkg/logging"
)

// Fanout subscribes to an Orchestrator's event channel once and republishes
// every event to any number of registered subscriber channels. A slow or
// absent subscriber never blocks the others: publishes are non-blocking.
type Fanout struct {
	logger logging.Logger

	mu          sync.Mutex
	subscribers map[int]chan orchestrator.Event
	nextID      int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFanout starts draining source immediately; call Stop to release it.
func NewFanout(source <-chan orchestrator.Event, logger logging.Logger) *Fanout {
	if logger == nil {
		logger = logging.Noop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fanout{
		logger:      logger,
		subscribers: map[int]chan orchestrator.Event{},
		cancel:      cancel,
	}
	f.wg.Add(1)
	go f.pump(ctx, source)
	return f
}

func (f *Fanout) pump(ctx context.Context, source <-chan orchestrator.Event) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-source:
			if !ok {
				return
			}
			f.broadcast(ev)
		}
	}
}

func (f *Fanout) broadcast(ev orchestrator.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
			f.logger.Warn("eventsink subscriber is slow, dropping event", map[string]interface{}{"kind": ev.Kind})
		}
	}
}

// Subscribe registers a new subscriber channel with the given buffer depth.
// The returned cancel func unregisters and closes it.
func (f *Fanout) Subscribe(buffer int) (<-chan orchestrator.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	ch := make(chan orchestrator.Event, buffer)
	f.subscribers[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subscribers[id]; ok {
			delete(f.subscribers, id)
			close(ch)
		}
	}
}

// Stop halts the pump goroutine. Subscriber channels are left open; callers
// should have unsubscribed first.
func (f *Fanout) Stop() {
	f.cancel()
	f.wg.Wait()
}

const (
	streamKeyPrefix = "agentsys:orchestrator:events:"
	defaultMaxLen   = 10000
)

// RedisSink appends every event it receives to a Redis stream, one stream
// per session id, capped at an approximate max length so a long-running
// deployment does not grow the stream unbounded.
type RedisSink struct {
	client *redis.Client
	logger logging.Logger
	maxLen int64
}

// RedisSinkOption configures a RedisSink.
type RedisSinkOption func(*RedisSink)

// WithMaxLen overrides the approximate stream trim length.
func WithMaxLen(n int64) RedisSinkOption {
	return func(s *RedisSink) { s.maxLen = n }
}

// NewRedisSink wraps an existing Redis client; the orchestrator never
// constructs the client itself, since connection lifecycle (pooling, TLS,
// auth) is an application concern outside the core's boundary.
func NewRedisSink(client *redis.Client, logger logging.Logger, opts ...RedisSinkOption) *RedisSink {
	if logger == nil {
		logger = logging.Noop{}
	}
	s := &RedisSink{client: client, logger: logger, maxLen: defaultMaxLen}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drains source into Redis until the channel closes or ctx is done.
func (s *RedisSink) Run(ctx context.Context, source <-chan orchestrator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-source:
			if !ok {
				return
			}
			s.append(ctx, ev)
		}
	}
}

func (s *RedisSink) append(ctx context.Context, ev orchestrator.Event) {
	sessionID, _ := ev.Detail["session_id"].(string)
	if sessionID == "" {
		sessionID = "unknown"
	}
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		s.logger.Warn("eventsink could not marshal event detail", map[string]interface{}{"error": err.Error()})
		return
	}

	key := streamKeyPrefix + sessionID
	args := &redis.XAddArgs{
		Stream: key,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":   ev.Kind,
			"at":     ev.At.Format(time.RFC3339Nano),
			"detail": string(detail),
		},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.logger.Warn("eventsink failed to append to redis stream", map[string]interface{}{"key": key, "error": err.Error()})
	}
}
