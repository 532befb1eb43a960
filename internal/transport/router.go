package transport

import "sync"

// Router holds static destination routing: a direct-connection fast path
// plus a next-hop table for anything not directly connected. Lookup is
// O(1) either way.
type Router struct {
	mu        sync.RWMutex
	direct    map[string]bool
	nextHop   map[string]string
}

func NewRouter() *Router {
	return &Router{direct: map[string]bool{}, nextHop: map[string]string{}}
}

// ConnectDirect marks receiver as directly reachable, bypassing next-hop
// resolution entirely.
func (r *Router) ConnectDirect(receiver string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[receiver] = true
}

// SetRoute records that messages for destination should be forwarded via
// nextHop when no direct connection exists.
func (r *Router) SetRoute(destination, nextHop string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextHop[destination] = nextHop
}

// Resolve returns the address a message for destination should actually be
// delivered to: destination itself if directly connected, else its
// configured next hop, else destination unchanged (best-effort local
// delivery).
func (r *Router) Resolve(destination string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.direct[destination] {
		return destination
	}
	if hop, ok := r.nextHop[destination]; ok {
		return hop
	}
	return destination
}

// KnownReceivers returns every destination this router has an explicit
// route or direct connection for -- used by broadcast's "all known routes"
// fallback.
func (r *Router) KnownReceivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for dst := range r.direct {
		if !seen[dst] {
			seen[dst] = true
			out = append(out, dst)
		}
	}
	for dst := range r.nextHop {
		if !seen[dst] {
			seen[dst] = true
			out = append(out, dst)
		}
	}
	return out
}
