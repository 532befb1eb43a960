// Package orchestrator drives a single run through the six monotonic
// phases spec.md §4.1 pins: analyze, plan, allocate, execute, assess,
// complete. Grounded on the teacher's orchestration.Orchestrator
// interface shape (orchestration/interfaces.go: ProcessRequest,
// ExecutePlan, GetExecutionHistory, GetMetrics) -- adapted from a
// routing-plan executor driving remote HTTP agents into a phase
// controller driving the in-process agent pool via Transport and the
// Strategy Engine.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentsys/orchestrator/internal/agentpool"
	"github.com/agentsys/orchestrator/internal/allocator"
	"github.com/agentsys/orchestrator/internal/collaborator"
	"github.com/agentsys/orchestrator/internal/errs"
	"github.com/agentsys/orchestrator/internal/strategy"
	"github.com/agentsys/orchestrator/internal/taskgraph"
	"github.com/agentsys/orchestrator/internal/transport"
	"github.com/agentsys/orchestrator/pkg/config"
	"github.com/agentsys/orchestrator/pkg/logging"
)

// RunResult is what execute() returns: the outcome of one full run.
type RunResult struct {
	SessionID          string
	Status             string // "completed" | "failed"
	Deliverables       map[string]interface{}
	QualityAssessment  *collaborator.QualityReport
	CompletionRate     float64
	PerformanceMetrics map[string]interface{}
	History            []taskgraph.PhaseRecord
	Error              string
}

// SystemStatus is a snapshot surfaced by status().
type SystemStatus struct {
	ActiveRuns       int
	TaskCountsByStatus map[taskgraph.Status]int
	AgentTypes       []string
	ShuttingDown     bool
}

// Event is one entry of the event stream consumed by a thin CLI/outer
// shell. The Orchestrator publishes only "phase_transition" events: pool
// alerts stay on agentpool.Pool.Alerts and are not forwarded here, and no
// "agent_state" events are emitted.
type Event struct {
	At      time.Time
	Kind    string // "phase_transition" | "alert" | "agent_state"
	Detail  map[string]interface{}
}

// Orchestrator owns the agent pool, allocator, strategy engine, and
// transport hub shared by every run, plus the collaborator hooks it calls
// into during analyze/plan/assess. A configured ResourceAllocator is held
// but not called during a run.
type Orchestrator struct {
	cfg    *config.Config
	logger logging.Logger

	pool      *agentpool.Pool
	allocator *allocator.Allocator
	hub       *transport.Hub
	engine    *strategy.Engine
	selfTransport *transport.Transport

	intent    collaborator.IntentAnalyzer
	quality   collaborator.QualityAssessor
	resources collaborator.ResourceAllocator

	events chan Event

	mu           sync.RWMutex
	activeRuns   map[string]*taskgraph.RunContext
	shuttingDown bool
	wg           sync.WaitGroup
}

// New builds an Orchestrator. intent and quality are required
// collaborators (per spec.md §4.6); resources is optional and may be nil.
func New(cfg *config.Config, pool *agentpool.Pool, alloc *allocator.Allocator, hub *transport.Hub,
	intent collaborator.IntentAnalyzer, quality collaborator.QualityAssessor, resources collaborator.ResourceAllocator,
	logger logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Noop{}
	}
	self := hub.NewTransport("orchestrator")
	o := &Orchestrator{
		cfg:           cfg,
		logger:        logger,
		pool:          pool,
		allocator:     alloc,
		hub:           hub,
		selfTransport: self,
		engine:        strategy.New(self, cfg.AgentTimeout, logger),
		intent:        intent,
		quality:       quality,
		resources:     resources,
		events:        make(chan Event, 256),
		activeRuns:    map[string]*taskgraph.RunContext{},
	}
	self.Run(context.Background())
	return o
}

// Events returns the event stream channel; callers should drain it
// continuously. Events are dropped, not blocked, if the buffer fills.
func (o *Orchestrator) Events() <-chan Event { return o.events }

func (o *Orchestrator) publish(ev Event) {
	select {
	case o.events <- ev:
	default:
	}
}

// Execute drives intent through all six phases and returns the run's
// final result. Errors in analyze/plan/allocate fail the run outright;
// execute failures are partial per task; assess and complete never fail.
func (o *Orchestrator) Execute(ctx context.Context, userIntent string, seedContext map[string]interface{}) (*RunResult, error) {
	o.mu.Lock()
	if o.shuttingDown {
		o.mu.Unlock()
		return nil, errs.New("Orchestrator.Execute", errs.KindPhaseFailure, errs.ErrShutdownInProgress, "")
	}
	if userIntent == "" {
		o.mu.Unlock()
		return nil, errs.New("Orchestrator.Execute", errs.KindValidation, errs.ErrInvalidIntent, "")
	}
	sessionID := uuid.New().String()
	rc := taskgraph.NewRunContext(sessionID, userIntent, o.cfg.QualityThreshold)
	o.activeRuns[sessionID] = rc
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.activeRuns, sessionID)
		o.mu.Unlock()
	}()

	result := &RunResult{SessionID: sessionID, Deliverables: map[string]interface{}{}, PerformanceMetrics: map[string]interface{}{}}

	// --- analyze ---
	analysis, err := o.runAnalyze(ctx, rc, userIntent)
	if err != nil {
		return o.fail(rc, result, err)
	}

	// --- plan ---
	graph, err := o.runPlan(ctx, rc, analysis)
	if err != nil {
		return o.fail(rc, result, err)
	}

	// --- allocate ---
	assignments, err := o.runAllocate(ctx, rc, graph)
	if err != nil {
		return o.fail(rc, result, err)
	}

	// --- execute ---
	taskResults, err := o.runExecute(ctx, rc, graph, assignments)
	if err != nil {
		return o.fail(rc, result, err)
	}

	// --- assess ---
	quality := o.runAssess(ctx, rc, taskResults)
	result.QualityAssessment = quality

	// --- complete ---
	return o.runComplete(ctx, rc, graph, taskResults, quality, result)
}

func (o *Orchestrator) fail(rc *taskgraph.RunContext, result *RunResult, err error) (*RunResult, error) {
	rc.EndPhase(err)
	result.Status = "failed"
	result.Error = err.Error()
	result.History = rc.History()
	o.publish(Event{At: time.Now(), Kind: "phase_transition", Detail: map[string]interface{}{
		"session_id": rc.SessionID, "phase": string(rc.CurrentPhase()), "error": err.Error(),
	}})
	return result, nil
}

func (o *Orchestrator) beginPhase(rc *taskgraph.RunContext, phase taskgraph.Phase) error {
	if err := rc.BeginPhase(phase); err != nil {
		return errs.New(fmt.Sprintf("Orchestrator.%s", phase), errs.KindPhaseFailure, err, "")
	}
	o.publish(Event{At: time.Now(), Kind: "phase_transition", Detail: map[string]interface{}{
		"session_id": rc.SessionID, "phase": string(phase),
	}})
	return nil
}

// Status returns a snapshot of the orchestrator's live state: how many runs
// are in flight, the known agent types, and whether shutdown has begun.
func (o *Orchestrator) Status() SystemStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return SystemStatus{
		ActiveRuns:   len(o.activeRuns),
		AgentTypes:   o.pool.Types(),
		ShuttingDown: o.shuttingDown,
	}
}

// Shutdown stops accepting new runs, waits for in-flight runs to finish
// (up to ctx's deadline), then releases the agent pool
// and stops the orchestrator's own transport. Safe to call once; a second
// call is a no-op.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.shuttingDown {
		o.mu.Unlock()
		return nil
	}
	o.shuttingDown = true
	o.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		for {
			o.mu.RLock()
			n := len(o.activeRuns)
			o.mu.RUnlock()
			if n == 0 {
				close(drained)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(25 * time.Millisecond):
			}
		}
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		o.logger.Warn("shutdown deadline reached with runs still active", map[string]interface{}{
			"active_runs": len(o.activeRuns),
		})
		return errs.New("Orchestrator.Shutdown", errs.KindPhaseFailure, ctx.Err(), "")
	}

	if err := o.pool.Shutdown(ctx); err != nil {
		o.logger.Warn("agent pool shutdown reported an error", map[string]interface{}{"error": err.Error()})
	}
	o.selfTransport.Shutdown()
	return nil
}
