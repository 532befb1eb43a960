// Package taskgraph holds the Task and TaskGraph entities the orchestrator
// plans and schedules, adapted from the teacher's core.Task (an async,
// queue-delivered task) into the run-scoped, dependency-aware task this
// runtime's planner produces.
package taskgraph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentsys/orchestrator/internal/errs"
)

// Status is a Task's position in the state graph spec.md §3 pins:
// pending -> ready -> in_progress -> (completed | blocked); cancelled is
// reachable from any non-terminal state; completed -> archived is the only
// post-terminal transition.
type Status string

const (
	StatusPending    Status = "pending"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
	StatusArchived   Status = "archived"
)

// Priority orders tasks within a topological layer and breaks allocation
// ties; Critical outranks High outranks Medium outranks Low.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// allowedTransitions encodes the legal edges of the status graph; Cancel is
// reachable from anywhere non-terminal and is therefore checked separately
// in CanTransition rather than listed under every source state.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending:    {StatusReady: true},
	StatusReady:      {StatusInProgress: true},
	StatusInProgress: {StatusCompleted: true, StatusBlocked: true},
	StatusCompleted:  {StatusArchived: true},
}

func isTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusArchived
}

// CanTransition reports whether moving a task from `from` to `to` respects
// spec.md §3's invariant.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return !isTerminal(from)
	}
	if from == to {
		return false
	}
	return allowedTransitions[from][to]
}

// LogEntry is one append-only line of a Task's execution log.
type LogEntry struct {
	At      time.Time
	Message string
	Fields  map[string]interface{}
}

// Task is the orchestrator's unit of work.
type Task struct {
	ID                   string
	Name                 string
	Description          string
	Status               Status
	Priority             Priority
	RequiredCapabilities map[string]struct{}
	Dependencies         map[string]struct{}
	AssignedAgents       map[string]struct{}
	Metadata             map[string]interface{}
	Logs                 []LogEntry

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	ArchivedAt  *time.Time

	mu sync.Mutex
}

// NewTask builds a pending task with the given required capabilities and
// dependencies; both sets are copied defensively.
func NewTask(id, name, description string, priority Priority, requiredCapabilities, dependencies []string) *Task {
	now := time.Now()
	t := &Task{
		ID:                   id,
		Name:                 name,
		Description:          description,
		Status:               StatusPending,
		Priority:             priority,
		RequiredCapabilities: toSet(requiredCapabilities),
		Dependencies:         toSet(dependencies),
		AssignedAgents:       map[string]struct{}{},
		Metadata:             map[string]interface{}{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	return t
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Transition moves the task to `to`, enforcing the status graph and
// stamping CompletedAt/ArchivedAt as required. Concurrency-safe: tasks are
// mutated from the strategy engine (agent results) and the orchestrator
// (phase completion) on potentially different goroutines.
func (t *Task) Transition(to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !CanTransition(t.Status, to) {
		return errs.New("Task.Transition", errs.KindValidation, errs.ErrInvalidTransition,
			fmt.Sprintf("%s -> %s", t.Status, to)).WithCorrelation(t.ID)
	}

	now := time.Now()
	t.Status = to
	t.UpdatedAt = now
	if to == StatusCompleted {
		t.CompletedAt = &now
	}
	if to == StatusArchived {
		t.ArchivedAt = &now
	}
	return nil
}

// Log appends a structured, append-only log entry. Never removes entries.
func (t *Task) Log(message string, fields map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Logs = append(t.Logs, LogEntry{At: time.Now(), Message: message, Fields: fields})
}

// AssignAgent records that an agent instance has been bound to this task.
func (t *Task) AssignAgent(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AssignedAgents[agentID] = struct{}{}
}

// AssignedAgentIDs returns the assigned agent ids in deterministic order.
func (t *Task) AssignedAgentIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.AssignedAgents))
	for id := range t.AssignedAgents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SnapshotStatus reads the task's status under lock -- callers outside the
// owning Orchestrator should use this instead of reading Status directly.
func (t *Task) SnapshotStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}
