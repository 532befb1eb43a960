package agentpool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentsys/orchestrator/internal/errs"
	"github.com/agentsys/orchestrator/pkg/logging"
)

// AlertThreshold configures when the heartbeat scan should raise an Alert
// for a type running low on healthy instances.
type AlertThreshold struct {
	MinIdleFraction float64 // alert when idle+busy+waiting instances fall below this fraction of total
}

// Alert is emitted on the pool's alert channel when a type's healthy
// instance fraction drops below its threshold, or an instance is tripped.
type Alert struct {
	At        time.Time
	AgentType string
	AgentID   string
	Reason    string
}

// Pool owns every AgentInstance, grouped by type, and the background
// heartbeat scan that detects stalled instances. One Pool is shared by all
// runs in the process -- instances are not per-run.
type Pool struct {
	logger            logging.Logger
	heartbeatInterval time.Duration
	alertThresholds   map[string]AlertThreshold

	mu        sync.RWMutex
	instances map[string]*AgentInstance   // id -> instance
	byType    map[string][]*AgentInstance // type -> instances, insertion order

	alerts chan Alert

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Pool. heartbeatInterval governs both how often the stall
// scan runs and how long an instance may go without activity before the
// scan trips its breaker: a busy instance that hasn't reported activity
// within 2*heartbeatInterval is considered stalled.
func New(heartbeatInterval time.Duration, logger logging.Logger) *Pool {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &Pool{
		logger:            logger,
		heartbeatInterval: heartbeatInterval,
		alertThresholds:   map[string]AlertThreshold{},
		instances:         map[string]*AgentInstance{},
		byType:            map[string][]*AgentInstance{},
		alerts:            make(chan Alert, 64),
	}
}

// SetAlertThreshold configures the minimum healthy-instance fraction for a
// type before the pool raises an Alert.
func (p *Pool) SetAlertThreshold(agentType string, t AlertThreshold) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alertThresholds[agentType] = t
}

// Alerts returns the channel alerts are published on. Callers should drain
// it continuously; the pool drops alerts rather than blocking the scan if
// the buffer fills.
func (p *Pool) Alerts() <-chan Alert {
	return p.alerts
}

// CreateInstances adds n instances of a type to the pool, using factory to
// build the underlying Agent for each.
func (p *Pool) CreateInstances(agentType string, n int, capabilities []Capability, factory func() Agent) []*AgentInstance {
	p.mu.Lock()
	defer p.mu.Unlock()

	created := make([]*AgentInstance, 0, n)
	for i := 0; i < n; i++ {
		inst := NewInstance(agentType, capabilities, factory(), p.logger)
		p.instances[inst.ID] = inst
		p.byType[agentType] = append(p.byType[agentType], inst)
		created = append(created, inst)
	}
	p.logger.Info("created agent instances", map[string]interface{}{"agent_type": agentType, "count": n})
	return created
}

// FindIdle returns idle instances of the given type, ordered by lowest
// resource_usage.cpu, then lowest current_task_count, then smallest id --
// the allocator's deterministic selection order (spec.md §4.2).
func (p *Pool) FindIdle(agentType string) []*AgentInstance {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var idle []*AgentInstance
	for _, inst := range p.byType[agentType] {
		if inst.Status() == StatusIdle {
			idle = append(idle, inst)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		a, b := idle[i], idle[j]
		if a.ResourceUsageCPU() != b.ResourceUsageCPU() {
			return a.ResourceUsageCPU() < b.ResourceUsageCPU()
		}
		if a.CurrentTaskCount() != b.CurrentTaskCount() {
			return a.CurrentTaskCount() < b.CurrentTaskCount()
		}
		return a.ID < b.ID
	})
	return idle
}

// Acquire claims the first available idle instance of agentType for a
// task, or returns ErrNoAgentAvailable.
func (p *Pool) Acquire(agentType, taskID string) (*AgentInstance, error) {
	for _, inst := range p.FindIdle(agentType) {
		if inst.acquire(taskID) {
			return inst, nil
		}
	}
	return nil, errs.New("Pool.Acquire", errs.KindAllocation, errs.ErrNoAgentAvailable, agentType).WithCorrelation(taskID)
}

// Release returns an acquired instance to idle once its caller is done
// with it. An instance in the sticky error state is left as it is; only
// Recover clears that.
func (p *Pool) Release(instanceID string) {
	p.mu.RLock()
	inst, ok := p.instances[instanceID]
	p.mu.RUnlock()
	if ok && inst.Status() != StatusError {
		inst.release(StatusIdle)
	}
}

// Get returns an instance by id.
func (p *Pool) Get(id string) (*AgentInstance, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.instances[id]
	return inst, ok
}

// InstancesOfType returns every instance of a type, insertion order.
func (p *Pool) InstancesOfType(agentType string) []*AgentInstance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*AgentInstance, len(p.byType[agentType]))
	copy(out, p.byType[agentType])
	return out
}

// Types returns every registered agent type.
func (p *Pool) Types() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	types := make([]string, 0, len(p.byType))
	for t := range p.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Start launches the background heartbeat scan.
func (p *Pool) Start(ctx context.Context) {
	scanCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.scanLoop(scanCtx)
}

// Shutdown stops the heartbeat scan and shuts down every instance.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.RLock()
	instances := make([]*AgentInstance, 0, len(p.instances))
	for _, inst := range p.instances {
		instances = append(instances, inst)
	}
	p.mu.RUnlock()

	var firstErr error
	for _, inst := range instances {
		if err := inst.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) scanLoop(ctx context.Context) {
	defer p.wg.Done()
	if p.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scanOnce()
		}
	}
}

func (p *Pool) scanOnce() {
	p.mu.RLock()
	types := make(map[string][]*AgentInstance, len(p.byType))
	for t, insts := range p.byType {
		types[t] = append([]*AgentInstance(nil), insts...)
	}
	thresholds := make(map[string]AlertThreshold, len(p.alertThresholds))
	for t, th := range p.alertThresholds {
		thresholds[t] = th
	}
	p.mu.RUnlock()

	now := time.Now()
	for agentType, insts := range types {
		healthy := 0
		for _, inst := range insts {
			status := inst.Status()
			if status == StatusBusy && now.Sub(inst.LastActivity()) > 2*p.heartbeatInterval {
				inst.Trip()
				p.publishAlert(Alert{At: now, AgentType: agentType, AgentID: inst.ID, Reason: "heartbeat timeout"})
				p.logger.Warn("agent instance tripped on heartbeat timeout", map[string]interface{}{
					"agent_id": inst.ID, "agent_type": agentType,
				})
				continue
			}
			if status == StatusIdle || status == StatusBusy || status == StatusWaiting {
				healthy++
			}
		}
		if th, ok := thresholds[agentType]; ok && len(insts) > 0 {
			fraction := float64(healthy) / float64(len(insts))
			if fraction < th.MinIdleFraction {
				p.publishAlert(Alert{At: now, AgentType: agentType, Reason: "healthy instance fraction below threshold"})
			}
		}
	}
}

func (p *Pool) publishAlert(a Alert) {
	select {
	case p.alerts <- a:
	default:
		p.logger.Warn("alert channel full, dropping alert", map[string]interface{}{"agent_type": a.AgentType, "reason": a.Reason})
	}
}
