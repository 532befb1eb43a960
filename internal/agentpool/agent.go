// Package agentpool holds the typed agent pool the orchestrator allocates
// work against: AgentInstance, its capability set and performance metrics,
// and the Pool that creates, tracks, and retires instances. Adapted from
// the teacher's BaseAgent/Discovery pair -- ID generation, structured
// lifecycle logging, and panic-safe execution all follow its idiom --
// retargeted from an HTTP-registered remote agent onto an in-process one
// the strategy engine reaches over its Transport through a Runner.
package agentpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentsys/orchestrator/internal/errs"
	"github.com/agentsys/orchestrator/pkg/logging"
	"github.com/agentsys/orchestrator/pkg/resilience"
)

// Status is an AgentInstance's position in the pool at any moment.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusWaiting Status = "waiting"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// Capability describes one thing an agent type can do, with enough
// information for the allocator to estimate fit without calling the agent.
type Capability struct {
	Name            string
	Complexity      int           // 1 (trivial) .. 5 (hardest) relative difficulty this agent type handles
	EstimatedTime   time.Duration // typical wall clock for one task at this capability
	HistoricSuccess float64       // success rate observed so far, 0..1
}

// Agent is the behavior contract an agent type must implement to be
// runnable by a Pool. Execute receives the task payload already decided by
// the strategy engine; it must respect ctx cancellation.
type Agent interface {
	Execute(ctx context.Context, taskID string, payload map[string]interface{}) (map[string]interface{}, error)
	Shutdown(ctx context.Context) error
}

// PerformanceMetrics tracks one instance's track record, read through
// AgentInstance.Metrics. The allocator's selection does not use it; that
// reads ResourceUsageCPU and CurrentTaskCount.
type PerformanceMetrics struct {
	mu                  sync.Mutex
	TasksCompleted      int64
	TasksFailed         int64
	TotalResponseTimeMs int64
}

func (m *PerformanceMetrics) recordSuccess(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TasksCompleted++
	m.TotalResponseTimeMs += elapsed.Milliseconds()
}

func (m *PerformanceMetrics) recordFailure(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TasksFailed++
	m.TotalResponseTimeMs += elapsed.Milliseconds()
}

// Snapshot is a consistent read of PerformanceMetrics for reporting.
type Snapshot struct {
	TasksCompleted      int64
	TasksFailed         int64
	AverageResponseMs   float64
	SuccessRate         float64
}

func (m *PerformanceMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.TasksCompleted + m.TasksFailed
	snap := Snapshot{TasksCompleted: m.TasksCompleted, TasksFailed: m.TasksFailed}
	if total > 0 {
		snap.AverageResponseMs = float64(m.TotalResponseTimeMs) / float64(total)
		snap.SuccessRate = float64(m.TasksCompleted) / float64(total)
	}
	return snap
}

// AgentInstance wraps a runnable Agent with pool bookkeeping: status,
// current task, last activity timestamp, and a circuit breaker. A failed
// call or a missed heartbeat puts the instance in the sticky error status
// (a missed heartbeat also forces the breaker open); only an explicit
// Recover call clears it, never a timer.
type AgentInstance struct {
	ID           string
	Type         string
	Capabilities []Capability

	agent   Agent
	breaker *resilience.CircuitBreaker
	metrics *PerformanceMetrics
	logger  logging.Logger

	mu               sync.Mutex
	status           Status
	currentTaskID    string
	currentTaskCount int
	resourceUsageCPU float64
	lastActivity     time.Time
}

// SetResourceUsage records the instance's current CPU usage fraction, read
// by the allocator's lowest-load selection. Agents that never report usage
// stay at zero and are treated as equally loaded, falling through to the
// current_task_count and id tie-breaks.
func (a *AgentInstance) SetResourceUsage(cpu float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resourceUsageCPU = cpu
}

// ResourceUsageCPU returns the last reported CPU usage fraction.
func (a *AgentInstance) ResourceUsageCPU() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resourceUsageCPU
}

// CurrentTaskCount returns how many tasks this instance has been assigned
// since creation -- used as the allocator's secondary tie-break.
func (a *AgentInstance) CurrentTaskCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentTaskCount
}

// NewInstance wraps agent as a pool-managed instance of the given type.
func NewInstance(agentType string, capabilities []Capability, agent Agent, logger logging.Logger) *AgentInstance {
	id := fmt.Sprintf("%s-%s", agentType, uuid.New().String()[:8])
	if logger == nil {
		logger = logging.Noop{}
	}
	inst := &AgentInstance{
		ID:           id,
		Type:         agentType,
		Capabilities: capabilities,
		agent:        agent,
		metrics:      &PerformanceMetrics{},
		logger:       logger,
		status:       StatusIdle,
		lastActivity: time.Now(),
	}
	inst.breaker = resilience.New(resilience.Config{
		Name:             id,
		ErrorThreshold:   0.5,
		VolumeThreshold:  3,
		SleepWindow:      0, // never auto half-opens; Recover is the only way out
		HalfOpenRequests: 1,
		SuccessThreshold: 1,
	})
	return inst
}

// Status returns the instance's current pool status under lock.
func (a *AgentInstance) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// LastActivity returns the last time this instance started or finished a
// task, used by the pool's heartbeat scan to detect stalls.
func (a *AgentInstance) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

// Acquire claims the instance for taskID, failing if it is not idle. A
// caller that already owns taskID (the Pool having acquired it on the
// caller's behalf before handing the instance to Run) reacquires the same
// claim rather than being rejected -- acquire is idempotent per task, not
// single-use.
func (a *AgentInstance) acquire(taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == StatusBusy && a.currentTaskID == taskID {
		a.lastActivity = time.Now()
		return true
	}
	if a.status != StatusIdle {
		return false
	}
	a.status = StatusBusy
	a.currentTaskID = taskID
	a.currentTaskCount++
	a.lastActivity = time.Now()
	return true
}

func (a *AgentInstance) release(nextStatus Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = nextStatus
	a.currentTaskID = ""
	a.lastActivity = time.Now()
}

// Run executes one task on this instance, respecting the circuit breaker
// and recovering panics the same way the teacher's HTTP handlers do --
// converted to a failed task result instead of a 500 response.
func (a *AgentInstance) Run(ctx context.Context, taskID string, payload map[string]interface{}) (result map[string]interface{}, err error) {
	if !a.acquire(taskID) {
		return nil, errs.New("AgentInstance.Run", errs.KindAllocation, errs.ErrAgentBusy, a.ID).WithCorrelation(taskID)
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("agent instance panicked", map[string]interface{}{
				"agent_id": a.ID, "task_id": taskID, "panic": r, "stack": string(debug.Stack()),
			})
			err = errs.New("AgentInstance.Run", errs.KindExecution, fmt.Errorf("panic: %v", r), a.ID).WithCorrelation(taskID)
		}
		elapsed := time.Since(start)
		if err != nil {
			a.metrics.recordFailure(elapsed)
			a.breaker.Record(false)
			a.release(StatusError)
		} else {
			a.metrics.recordSuccess(elapsed)
			a.breaker.Record(true)
			a.release(StatusIdle)
		}
	}()

	if !a.breaker.Allow() {
		err = errs.New("AgentInstance.Run", errs.KindExecution, resilience.ErrOpen, a.ID).WithCorrelation(taskID)
		return nil, err
	}

	result, err = a.agent.Execute(ctx, taskID, payload)
	return result, err
}

// Trip forces the instance into the sticky error state -- called by the
// pool's heartbeat scan when a busy instance has shown no activity for
// longer than twice the heartbeat interval.
func (a *AgentInstance) Trip() {
	a.breaker.Trip()
	a.release(StatusError)
}

// Recover is the only way to clear a sticky error state, matching
// spec.md's "error persists until explicit recovery action" rule.
func (a *AgentInstance) Recover() {
	a.breaker.Reset()
	a.mu.Lock()
	a.status = StatusIdle
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

// Metrics returns a consistent snapshot of this instance's track record.
func (a *AgentInstance) Metrics() Snapshot {
	return a.metrics.Snapshot()
}

// Shutdown delegates to the wrapped agent and marks the instance offline.
func (a *AgentInstance) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.status = StatusOffline
	a.mu.Unlock()
	return a.agent.Shutdown(ctx)
}
