// Package allocator maps a task's required capabilities onto an agent
// type and acquires a concrete instance from the pool, waiting up to a
// configured timeout before reporting the task blocked. Grounded on the
// teacher's RedisDiscovery capability-set indexing (discovery.go), adapted
// from a remote service-registry lookup into an in-memory static map since
// the runtime's agent types are registered once at startup, not churned at
// runtime.
package allocator

import (
	"context"
	"sync"
	"time"

	"github.com/agentsys/orchestrator/internal/agentpool"
	"github.com/agentsys/orchestrator/internal/errs"
	"github.com/agentsys/orchestrator/pkg/logging"
)

// Allocator binds task capability requirements to a concrete AgentInstance
// drawn from a Pool.
type Allocator struct {
	pool   *agentpool.Pool
	logger logging.Logger

	mu               sync.RWMutex
	capabilityToType map[string][]string // capability -> agent types that provide it, priority order
}

// New builds an Allocator over pool.
func New(pool *agentpool.Pool, logger logging.Logger) *Allocator {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &Allocator{pool: pool, logger: logger, capabilityToType: map[string][]string{}}
}

// RegisterCapability declares that agentType can satisfy capability. The
// first registered type for a capability is preferred when more than one
// type can serve the same request.
func (a *Allocator) RegisterCapability(capability, agentType string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.capabilityToType[capability] {
		if t == agentType {
			return
		}
	}
	a.capabilityToType[capability] = append(a.capabilityToType[capability], agentType)
}

// TypesFor returns the agent types known to satisfy a capability, in
// registration order.
func (a *Allocator) TypesFor(capability string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.capabilityToType[capability]))
	copy(out, a.capabilityToType[capability])
	return out
}

// Allocate resolves requiredCapabilities to an agent type and acquires an
// idle instance of it for taskID, waiting up to timeout and polling at a
// fixed interval before returning ErrAllocationTimeout. A task with no
// agent type able to satisfy all its capabilities fails immediately with
// ErrUnknownCapability rather than waiting out the timeout.
func (a *Allocator) Allocate(ctx context.Context, taskID string, requiredCapabilities []string, timeout time.Duration) (*agentpool.AgentInstance, error) {
	agentType, err := a.resolveType(requiredCapabilities)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	const pollInterval = 50 * time.Millisecond

	for {
		inst, err := a.pool.Acquire(agentType, taskID)
		if err == nil {
			a.logger.Debug("allocated agent instance", map[string]interface{}{
				"task_id": taskID, "agent_type": agentType, "agent_id": inst.ID,
			})
			return inst, nil
		}

		if time.Now().After(deadline) {
			return nil, errs.New("Allocator.Allocate", errs.KindAllocation, errs.ErrAllocationTimeout, agentType).WithCorrelation(taskID)
		}

		select {
		case <-ctx.Done():
			return nil, errs.New("Allocator.Allocate", errs.KindAllocation, ctx.Err(), agentType).WithCorrelation(taskID)
		case <-time.After(pollInterval):
		}
	}
}

// resolveType picks the single agent type that covers every required
// capability. Required capabilities must all resolve to the same type --
// splitting one task's requirements across multiple agent types is not
// supported; that decomposition belongs to planning, before allocation.
func (a *Allocator) resolveType(requiredCapabilities []string) (string, error) {
	if len(requiredCapabilities) == 0 {
		return "", errs.New("Allocator.resolveType", errs.KindAllocation, errs.ErrUnknownCapability, "no required capabilities")
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	var candidates []string
	for i, cap := range requiredCapabilities {
		types := a.capabilityToType[cap]
		if len(types) == 0 {
			return "", errs.New("Allocator.resolveType", errs.KindAllocation, errs.ErrUnknownCapability, cap)
		}
		if i == 0 {
			candidates = append(candidates, types...)
			continue
		}
		candidates = intersect(candidates, types)
		if len(candidates) == 0 {
			return "", errs.New("Allocator.resolveType", errs.KindAllocation, errs.ErrUnknownCapability, cap)
		}
	}
	return candidates[0], nil
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []string
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}
