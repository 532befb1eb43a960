package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentsys/orchestrator/internal/errs"
	"github.com/agentsys/orchestrator/pkg/logging"
)

// Handler processes an inbound message. Returning an error only logs; it
// never blocks the acknowledgement, which Transport sends automatically
// for reliable/request_response messages regardless of handler outcome.
type Handler func(ctx context.Context, msg *Message) error

// Stats is a point-in-time read of one Transport's counters, returned by
// Transport.Stats and logged by the background stats collector.
type Stats struct {
	Sent              uint64
	Received          uint64
	ChecksumFailures  uint64
	ExpiredDropped    uint64
	QueueOverflowDrop uint64
	Retries           uint64
	RetriesExhausted  uint64
	InboundDepth      int
	OutboundDepth     int
	PendingAcks       int
}

// Transport is one agent's view of the messaging fabric: its own inbound
// and outbound queues, a shared router, its own reliability tracker, and
// its registered handlers. One Transport per participant (agent instance,
// orchestrator, event sink).
type Transport struct {
	id     string
	logger logging.Logger

	inbound  *priorityQueue
	outbound *priorityQueue
	router   *Router

	reliability *reliabilityTracker
	retryDelay  time.Duration
	checkInterval time.Duration
	statsInterval time.Duration

	mu       sync.RWMutex
	handlers map[MessageType]Handler

	waitersMu sync.Mutex
	waiters   map[string]chan *Message // correlation_id -> response channel, for request_response

	sent, received, checksumFail, expiredDrop, retriesTotal, retriesExhausted atomic.Uint64

	deliver func(receiver string, msg *Message) error // injected by a Hub to cross-deliver between Transports

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config tunes one Transport instance.
type Config struct {
	QueueCapacity         int
	AckTimeout            time.Duration
	RetryDelay            time.Duration
	MaxRetries            int
	ReliabilityCheckInterval time.Duration
	StatsInterval            time.Duration // cadence of the background stats collector; defaults to ReliabilityCheckInterval
}

// New builds a Transport for participant id, routing outbound sends
// through router and delivering them via deliver (normally a Hub's
// in-process dispatch function).
func New(id string, router *Router, cfg Config, deliver func(receiver string, msg *Message) error, logger logging.Logger) *Transport {
	if logger == nil {
		logger = logging.Noop{}
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1000
	}
	t := &Transport{
		id:            id,
		logger:        logger,
		inbound:       newPriorityQueue(cfg.QueueCapacity),
		outbound:      newPriorityQueue(cfg.QueueCapacity),
		router:        router,
		reliability:   newReliabilityTracker(cfg.AckTimeout, cfg.RetryDelay, cfg.MaxRetries, logger),
		retryDelay:    cfg.RetryDelay,
		checkInterval: cfg.ReliabilityCheckInterval,
		statsInterval: cfg.StatsInterval,
		handlers:      map[MessageType]Handler{},
		waiters:       map[string]chan *Message{},
		deliver:       deliver,
	}
	router.ConnectDirect(id)
	return t
}

// ID returns this Transport's participant id.
func (t *Transport) ID() string { return t.id }

// RegisterHandler binds a handler to a message type.
func (t *Transport) RegisterHandler(typ MessageType, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[typ] = h
}

// UnregisterHandler removes a type's handler.
func (t *Transport) UnregisterHandler(typ MessageType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, typ)
}

// Send builds and enqueues a message to the outbound queue, returning its
// id. Under reliable or request_response delivery it is also tracked for
// acknowledgement.
func (t *Transport) Send(receiver string, typ MessageType, payload map[string]interface{}, priority Priority, mode DeliveryMode, ttl time.Duration, compression Compression) (string, error) {
	msg, err := newMessage(t.id, receiver, typ, payload, priority, mode, ttl, compression)
	if err != nil {
		return "", err
	}
	return t.enqueueOutbound(msg, mode)
}

func (t *Transport) enqueueOutbound(msg *Message, mode DeliveryMode) (string, error) {
	if dropped := t.outbound.Push(msg); dropped {
		return "", errs.New("Transport.Send", errs.KindTransport, errs.ErrQueueOverflow, t.id).WithCorrelation(msg.Header.ID)
	}
	t.sent.Add(1)
	if mode == DeliveryReliable || mode == DeliveryRequestResponse {
		t.reliability.Track(msg)
	}
	return msg.Header.ID, nil
}

// Receive blocks (respecting ctx) until an inbound message is available,
// discarding any TTL-expired messages it encounters at the head first.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) (*Message, bool) {
	deadline := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		deadline, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for {
		msg, ok := t.inbound.Pop(deadline)
		if !ok {
			return nil, false
		}
		if msg.Expired(time.Now()) {
			t.expiredDrop.Add(1)
			continue
		}
		t.received.Add(1)
		return msg, true
	}
}

// Broadcast sends payload to every receiver in receivers, or to every
// known route if receivers is empty; the sender is never a recipient of
// its own broadcast.
func (t *Transport) Broadcast(typ MessageType, payload map[string]interface{}, receivers []string, priority Priority) []error {
	if len(receivers) == 0 {
		receivers = t.router.KnownReceivers()
	}
	var errsOut []error
	for _, r := range receivers {
		if r == t.id {
			continue
		}
		if _, err := t.Send(r, typ, payload, priority, DeliveryBestEffort, 0, CompressionNone); err != nil {
			errsOut = append(errsOut, err)
		}
	}
	return errsOut
}

// RequestResponse sends payload under request_response delivery and waits
// up to timeout for a response message correlated to the request id.
func (t *Transport) RequestResponse(ctx context.Context, receiver string, payload map[string]interface{}, priority Priority, timeout time.Duration) (*Message, error) {
	msgID, err := t.Send(receiver, TypeTaskExecution, payload, priority, DeliveryRequestResponse, timeout, CompressionNone)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Message, 1)
	t.waitersMu.Lock()
	t.waiters[msgID] = ch
	t.waitersMu.Unlock()
	defer func() {
		t.waitersMu.Lock()
		delete(t.waiters, msgID)
		t.waitersMu.Unlock()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case resp := <-ch:
		return resp, nil
	case <-waitCtx.Done():
		return nil, errs.New("Transport.RequestResponse", errs.KindTransport, errs.ErrRequestTimeout, receiver).WithCorrelation(msgID)
	}
}

// deliverInbound is called by the Hub to hand an already-routed message to
// this Transport's inbound queue.
func (t *Transport) deliverInbound(msg *Message) {
	if dropped := t.inbound.Push(msg); dropped {
		t.logger.Warn("inbound queue overflow, dropping message", map[string]interface{}{
			"transport": t.id, "type": msg.Header.Type,
		})
	}
}

// PumpOnce drains and handles every currently available inbound message:
// verifies checksum, drops expired messages, dispatches to the registered
// handler (or a waiting RequestResponse caller), and auto-acknowledges
// reliable/request_response messages. This is the Transport's message pump
// background task, exposed as a single pass for deterministic testing.
func (t *Transport) PumpOnce(ctx context.Context) {
	for {
		msg, ok := t.inbound.TryPop()
		if !ok {
			return
		}
		t.handleInbound(ctx, msg)
	}
}

func (t *Transport) handleInbound(ctx context.Context, msg *Message) {
	if msg.Expired(time.Now()) {
		t.expiredDrop.Add(1)
		return
	}
	if !msg.VerifyChecksum() {
		t.checksumFail.Add(1)
		t.logger.Warn("checksum mismatch, dropping message", map[string]interface{}{
			"transport": t.id, "message_id": msg.Header.ID,
		})
		return
	}
	t.received.Add(1)

	if msg.Header.Type == TypeAcknowledgement {
		if origID, ok := msg.Payload["original_id"].(string); ok {
			t.reliability.Ack(origID)
		}
		return
	}

	if msg.Header.Type == TypeResponse && msg.Header.CorrelationID != "" {
		t.waitersMu.Lock()
		ch, ok := t.waiters[msg.Header.CorrelationID]
		t.waitersMu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
	}

	t.mu.RLock()
	h, ok := t.handlers[msg.Header.Type]
	t.mu.RUnlock()
	if ok {
		if err := h(ctx, msg); err != nil {
			t.logger.Error("handler returned error", map[string]interface{}{
				"transport": t.id, "type": msg.Header.Type, "error": err.Error(),
			})
		}
	}

	if msg.Header.DeliveryMode == DeliveryReliable || msg.Header.DeliveryMode == DeliveryRequestResponse {
		t.sendAck(msg)
	}
}

func (t *Transport) sendAck(msg *Message) {
	ackPayload := map[string]interface{}{"original_id": msg.Header.ID}
	if _, err := t.Send(msg.Header.Sender, TypeAcknowledgement, ackPayload, PriorityHighest, DeliveryBestEffort, 0, CompressionNone); err != nil {
		t.logger.Warn("failed to send acknowledgement", map[string]interface{}{"transport": t.id, "error": err.Error()})
	}
}

// Reply sends a TypeResponse correlated to an inbound task_execution
// message's id, used by an agent runner bridge after executing a task.
func (t *Transport) Reply(originalMsg *Message, payload map[string]interface{}) error {
	msg, err := newMessage(t.id, originalMsg.Header.Sender, TypeResponse, payload, originalMsg.Header.Priority, DeliveryBestEffort, 0, CompressionNone)
	if err != nil {
		return err
	}
	msg.Header.CorrelationID = originalMsg.Header.ID
	_, err = t.enqueueOutbound(msg, DeliveryBestEffort)
	return err
}

// PumpOutboundOnce drains the outbound queue and hands each message to the
// Hub's delivery function, resolved via the router.
func (t *Transport) PumpOutboundOnce() {
	for {
		msg, ok := t.outbound.TryPop()
		if !ok {
			return
		}
		dest := t.router.Resolve(msg.Header.Receiver)
		if err := t.deliver(dest, msg); err != nil {
			t.logger.Warn("delivery failed", map[string]interface{}{
				"transport": t.id, "receiver": dest, "error": err.Error(),
			})
		}
	}
}

// ReliabilityScanOnce re-enqueues any due retries and surfaces errors for
// entries that have exhausted max_retries.
func (t *Transport) ReliabilityScanOnce() {
	toRetry, dropped := t.reliability.Scan()
	for _, r := range toRetry {
		t.retriesTotal.Add(1)
		if overflow := t.outbound.Push(r.msg); overflow {
			t.logger.Warn("retry dropped on outbound overflow", map[string]interface{}{"transport": t.id, "message_id": r.msg.Header.ID})
		}
	}
	for _, d := range dropped {
		t.retriesExhausted.Add(1)
		t.logger.Error("message retries exhausted, surfacing as error event", map[string]interface{}{
			"transport": t.id, "message_id": d.msg.Header.ID, "retries": d.retries,
		})
	}
}

// StatsCollectOnce logs a snapshot of this Transport's counters. Exported
// for tests; Run schedules it on its own tick the same way it schedules
// the reliability scan.
func (t *Transport) StatsCollectOnce() {
	snap := t.Stats()
	t.logger.Debug("transport stats", map[string]interface{}{
		"transport": t.id, "sent": snap.Sent, "received": snap.Received,
		"inbound_depth": snap.InboundDepth, "outbound_depth": snap.OutboundDepth,
		"pending_acks": snap.PendingAcks, "retries": snap.Retries,
		"retries_exhausted": snap.RetriesExhausted,
	})
}

// Run starts this Transport's background tasks: the message pump (split
// into its inbound and outbound halves, since they drain independent
// queues), the reliability checker, and a stats collector. All of them
// stop when ctx is cancelled or Shutdown is called.
func (t *Transport) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(4)
	go t.loop(runCtx, 10*time.Millisecond, func() { t.PumpOnce(runCtx) })
	go t.loop(runCtx, 10*time.Millisecond, t.PumpOutboundOnce)
	interval := t.checkInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go t.loop(runCtx, interval, t.ReliabilityScanOnce)

	statsInterval := t.statsInterval
	if statsInterval <= 0 {
		statsInterval = interval
	}
	go t.loop(runCtx, statsInterval, t.StatsCollectOnce)
}

func (t *Transport) loop(ctx context.Context, interval time.Duration, fn func()) {
	defer t.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Shutdown cancels the background tasks and waits for them to drain.
func (t *Transport) Shutdown() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// Stats returns a snapshot of this Transport's counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Sent:              t.sent.Load(),
		Received:          t.received.Load(),
		ChecksumFailures:  t.checksumFail.Load(),
		ExpiredDropped:    t.expiredDrop.Load(),
		QueueOverflowDrop: t.inbound.Dropped() + t.outbound.Dropped(),
		Retries:           t.retriesTotal.Load(),
		RetriesExhausted:  t.retriesExhausted.Load(),
		InboundDepth:      t.inbound.Len(),
		OutboundDepth:     t.outbound.Len(),
		PendingAcks:       t.reliability.Pending(),
	}
}

// DeliverInbound pushes a message into this Transport's inbound queue; the
// Hub delivers through it, and tests use it to inject messages directly.
func (t *Transport) DeliverInbound(msg *Message) {
	t.deliverInbound(msg)
}
