package transport

import (
	"fmt"
	"sync"

	"github.com/agentsys/orchestrator/pkg/logging"
)

// Hub is the in-process message fabric: it owns the shared Router and
// hands each outbound message to its destination Transport's inbound
// queue. A single process runs one Hub; spec.md's single-process,
// no-cluster-consensus boundary means a Hub never talks to another Hub.
type Hub struct {
	router *Router
	logger logging.Logger

	mu         sync.RWMutex
	transports map[string]*Transport
	cfg        Config
}

// NewHub builds an empty Hub sharing one Router and one Config across
// every Transport it creates.
func NewHub(cfg Config, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &Hub{router: NewRouter(), logger: logger, transports: map[string]*Transport{}, cfg: cfg}
}

// NewTransport creates and registers a Transport for participant id.
func (h *Hub) NewTransport(id string) *Transport {
	t := New(id, h.router, h.cfg, h.deliver, h.logger)
	h.mu.Lock()
	h.transports[id] = t
	h.mu.Unlock()
	return t
}

// Remove unregisters a participant's Transport, e.g. on agent shutdown.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.transports, id)
}

func (h *Hub) deliver(receiver string, msg *Message) error {
	h.mu.RLock()
	t, ok := h.transports[receiver]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: no such participant %q", receiver)
	}
	t.DeliverInbound(msg)
	return nil
}

// Router exposes the shared router so callers can pre-declare static
// destination -> next_hop entries before any Transport sends.
func (h *Hub) Router() *Router { return h.router }
