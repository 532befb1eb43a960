package taskgraph

import (
	"sync"
	"time"
)

// Phase is one of the six run phases the orchestrator steps through, in
// order, never revisiting a completed phase.
type Phase string

const (
	PhaseAnalyze  Phase = "analyze"
	PhasePlan     Phase = "plan"
	PhaseAllocate Phase = "allocate"
	PhaseExecute  Phase = "execute"
	PhaseAssess   Phase = "assess"
	PhaseComplete Phase = "complete"
)

// phaseOrder pins the sequence RunContext.BeginPhase enforces.
var phaseOrder = []Phase{PhaseAnalyze, PhasePlan, PhaseAllocate, PhaseExecute, PhaseAssess, PhaseComplete}

// PhaseRecord is one append-only entry of a run's phase history.
type PhaseRecord struct {
	Phase     Phase
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
}

// RunContext is the run-scoped state the orchestrator threads through all
// six phases: the original intent, the current phase, which agents are
// active, what resources were allocated, the quality bar for this run, and
// an append-only execution history that is returned with the run's result.
type RunContext struct {
	SessionID         string
	UserIntent        string
	QualityThresholds float64

	mu               sync.Mutex
	currentPhase     Phase
	activeAgents     map[string]struct{}
	resourceAllocation map[string]interface{}
	history          []PhaseRecord
}

// NewRunContext starts a run context with no phase entered yet; the first
// call to BeginPhase must be PhaseAnalyze.
func NewRunContext(sessionID, userIntent string, qualityThreshold float64) *RunContext {
	return &RunContext{
		SessionID:          sessionID,
		UserIntent:         userIntent,
		QualityThresholds:  qualityThreshold,
		activeAgents:       map[string]struct{}{},
		resourceAllocation: map[string]interface{}{},
	}
}

// BeginPhase records the start of the next phase. It rejects any phase out
// of order or any attempt to re-enter a phase already recorded -- the run
// controller must never revisit a completed phase.
func (rc *RunContext) BeginPhase(p Phase) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	expected := nextPhase(rc.currentPhase)
	if p != expected {
		return &PhaseOrderError{Current: rc.currentPhase, Attempted: p, Expected: expected}
	}
	rc.currentPhase = p
	rc.history = append(rc.history, PhaseRecord{Phase: p, StartedAt: time.Now()})
	return nil
}

// EndPhase closes out the most recently begun phase's record with its
// outcome.
func (rc *RunContext) EndPhase(err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.history) == 0 {
		return
	}
	last := &rc.history[len(rc.history)-1]
	last.EndedAt = time.Now()
	last.Err = err
}

func nextPhase(current Phase) Phase {
	if current == "" {
		return PhaseAnalyze
	}
	for i, p := range phaseOrder {
		if p == current && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return ""
}

// CurrentPhase returns the phase currently in flight (or last completed).
func (rc *RunContext) CurrentPhase() Phase {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.currentPhase
}

// History returns a copy of the phase execution history.
func (rc *RunContext) History() []PhaseRecord {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]PhaseRecord, len(rc.history))
	copy(out, rc.history)
	return out
}

// ActivateAgent records that an agent instance is participating in this run.
func (rc *RunContext) ActivateAgent(agentID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.activeAgents[agentID] = struct{}{}
}

// DeactivateAgent releases an agent instance from this run's active set.
func (rc *RunContext) DeactivateAgent(agentID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.activeAgents, agentID)
}

// ActiveAgentIDs returns the ids of agents currently active in this run.
func (rc *RunContext) ActiveAgentIDs() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	ids := make([]string, 0, len(rc.activeAgents))
	for id := range rc.activeAgents {
		ids = append(ids, id)
	}
	return ids
}

// SetResourceAllocation records what a ResourceAllocator collaborator
// granted for this run (opaque to the core, just carried through).
func (rc *RunContext) SetResourceAllocation(key string, value interface{}) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.resourceAllocation[key] = value
}

// ResourceAllocation returns a copy of the resource allocation map.
func (rc *RunContext) ResourceAllocation() map[string]interface{} {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]interface{}, len(rc.resourceAllocation))
	for k, v := range rc.resourceAllocation {
		out[k] = v
	}
	return out
}

// PhaseOrderError reports an attempt to enter a phase out of sequence.
type PhaseOrderError struct {
	Current   Phase
	Attempted Phase
	Expected  Phase
}

func (e *PhaseOrderError) Error() string {
	return "taskgraph: cannot begin phase " + string(e.Attempted) + " from " + string(e.Current) +
		"; expected " + string(e.Expected)
}
