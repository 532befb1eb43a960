package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentsys/orchestrator/internal/collaborator"
	"github.com/agentsys/orchestrator/internal/errs"
	"github.com/agentsys/orchestrator/internal/strategy"
	"github.com/agentsys/orchestrator/internal/taskgraph"
)

func (o *Orchestrator) runAnalyze(ctx context.Context, rc *taskgraph.RunContext, userIntent string) (*collaborator.IntentAnalysis, error) {
	if err := o.beginPhase(rc, taskgraph.PhaseAnalyze); err != nil {
		return nil, err
	}
	analysis, err := o.intent.AnalyzeIntent(ctx, userIntent)
	if err != nil {
		rc.EndPhase(err)
		return nil, errs.New("Orchestrator.analyze", errs.KindPhaseFailure, err, "intent analysis failed")
	}
	rc.EndPhase(nil)
	return analysis, nil
}

func (o *Orchestrator) runPlan(ctx context.Context, rc *taskgraph.RunContext, analysis *collaborator.IntentAnalysis) (*taskgraph.Graph, error) {
	if err := o.beginPhase(rc, taskgraph.PhasePlan); err != nil {
		return nil, err
	}

	specs, err := o.intent.CreateTaskBreakdown(ctx, analysis)
	if err != nil {
		rc.EndPhase(err)
		return nil, errs.New("Orchestrator.plan", errs.KindPhaseFailure, err, "task breakdown failed")
	}

	graph := taskgraph.New()
	nameToID := map[string]string{}
	for _, spec := range specs {
		id := fmt.Sprintf("%s-%s", rc.SessionID[:8], spec.Name)
		nameToID[spec.Name] = id
	}
	for _, spec := range specs {
		deps := make([]string, 0, len(spec.Dependencies))
		for _, d := range spec.Dependencies {
			if id, ok := nameToID[d]; ok {
				deps = append(deps, id)
			} else {
				deps = append(deps, d)
			}
		}
		task := taskgraph.NewTask(nameToID[spec.Name], spec.Name, spec.Description, priorityFromString(spec.Priority), spec.RequiredCapabilities, deps)
		graph.Add(task)
	}

	result, err := graph.Schedule()
	if err != nil {
		rc.EndPhase(err)
		return nil, errs.New("Orchestrator.plan", errs.KindPhaseFailure, err, "scheduling failed")
	}
	if result.CycleDetected {
		o.logger.Warn("task graph contains a cycle, flattened into final layer", map[string]interface{}{
			"session_id": rc.SessionID,
		})
	}
	rc.EndPhase(nil)
	return graph, nil
}

func priorityFromString(s string) taskgraph.Priority {
	switch s {
	case "critical":
		return taskgraph.PriorityCritical
	case "high":
		return taskgraph.PriorityHigh
	case "low":
		return taskgraph.PriorityLow
	default:
		return taskgraph.PriorityMedium
	}
}

// taskAssignment is the allocator's output for one task: the acquired
// agent instances bound to it, in allocation order.
type taskAssignment struct {
	task        *taskgraph.Task
	assignments []strategy.Assignment
}

func (o *Orchestrator) runAllocate(ctx context.Context, rc *taskgraph.RunContext, graph *taskgraph.Graph) (map[string]*taskAssignment, error) {
	if err := o.beginPhase(rc, taskgraph.PhaseAllocate); err != nil {
		return nil, err
	}

	schedule, err := graph.Schedule()
	if err != nil {
		rc.EndPhase(err)
		return nil, errs.New("Orchestrator.allocate", errs.KindPhaseFailure, err, "")
	}

	out := map[string]*taskAssignment{}
	for _, taskID := range schedule.Flat {
		task, _ := graph.Get(taskID)
		requiredCaps := make([]string, 0, len(task.RequiredCapabilities))
		for c := range task.RequiredCapabilities {
			requiredCaps = append(requiredCaps, c)
		}

		inst, allocErr := o.allocator.Allocate(ctx, task.ID, requiredCaps, o.cfg.AllocationTimeout)
		if allocErr != nil {
			if err := task.Transition(taskgraph.StatusBlocked); err != nil {
				o.logger.Warn("could not mark task blocked", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
			}
			if isCriticalCapabilityFailure(allocErr) {
				rc.EndPhase(allocErr)
				return nil, errs.New("Orchestrator.allocate", errs.KindPhaseFailure, allocErr, task.ID)
			}
			continue
		}
		if err := task.Transition(taskgraph.StatusReady); err != nil {
			o.logger.Warn("could not mark task ready", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		}
		task.AssignAgent(inst.ID)
		rc.ActivateAgent(inst.ID)
		out[task.ID] = &taskAssignment{task: task, assignments: []strategy.Assignment{{Instance: inst}}}
	}

	rc.EndPhase(nil)
	return out, nil
}

// isCriticalCapabilityFailure fails the whole run only when no agent type
// exists at all for a required capability; a transient no-idle-instance
// timeout instead blocks just that one task.
func isCriticalCapabilityFailure(err error) bool {
	return errors.Is(err, errs.ErrUnknownCapability)
}

type taskOutcome struct {
	task   *taskgraph.Task
	result *strategy.Result
}

func (o *Orchestrator) runExecute(ctx context.Context, rc *taskgraph.RunContext, graph *taskgraph.Graph, assignments map[string]*taskAssignment) (map[string]*taskOutcome, error) {
	if err := o.beginPhase(rc, taskgraph.PhaseExecute); err != nil {
		return nil, err
	}

	outcomes := map[string]*taskOutcome{}
	var outcomesMu sync.Mutex
	schedule, _ := graph.Schedule()

	// MaxConcurrentTasks bounds how many tasks within a single layer run at
	// once; layers themselves stay strictly sequential since a later layer
	// depends on an earlier one's tasks.
	limit := o.cfg.MaxConcurrentTasks
	if limit <= 0 {
		limit = 1
	}

	for _, layer := range schedule.Layers {
		sem := make(chan struct{}, limit)
		var wg sync.WaitGroup

		for _, taskID := range layer {
			ta, ok := assignments[taskID]
			if !ok {
				continue // blocked during allocation
			}

			sem <- struct{}{}
			wg.Add(1)
			go func(ta *taskAssignment) {
				defer wg.Done()
				defer func() { <-sem }()

				oc := o.executeTask(ctx, rc, ta)

				outcomesMu.Lock()
				outcomes[ta.task.ID] = oc
				outcomesMu.Unlock()
			}(ta)
		}
		wg.Wait()
	}

	rc.EndPhase(nil)
	return outcomes, nil
}

// executeTask runs a single allocated task against its assignments,
// transitioning it to completed or blocked based on the strategy engine's
// success rate. Safe to call from multiple goroutines concurrently, one
// per task within a layer, bounded by MaxConcurrentTasks.
func (o *Orchestrator) executeTask(ctx context.Context, rc *taskgraph.RunContext, ta *taskAssignment) *taskOutcome {
	task := ta.task
	if err := task.Transition(taskgraph.StatusInProgress); err != nil {
		o.logger.Warn("could not start task", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		return &taskOutcome{task: task, result: &strategy.Result{TaskID: task.ID}}
	}

	agentTypes := make([]string, 0, len(ta.assignments))
	for _, a := range ta.assignments {
		agentTypes = append(agentTypes, a.Instance.Type)
	}
	strat := strategy.Select(agentTypes)

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	execResult := o.engine.Run(callCtx, task.ID, strat, ta.assignments, map[string]interface{}{"name": task.Name, "description": task.Description})
	cancel()

	for _, a := range ta.assignments {
		o.pool.Release(a.Instance.ID)
		rc.DeactivateAgent(a.Instance.ID)
	}

	if execResult.SuccessRate >= 1.0 {
		if err := task.Transition(taskgraph.StatusCompleted); err != nil {
			o.logger.Warn("could not complete task", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		}
	} else {
		if err := task.Transition(taskgraph.StatusBlocked); err != nil {
			o.logger.Warn("could not block task", map[string]interface{}{"task_id": task.ID, "error": err.Error()})
		}
	}

	return &taskOutcome{task: task, result: execResult}
}

func (o *Orchestrator) runAssess(ctx context.Context, rc *taskgraph.RunContext, outcomes map[string]*taskOutcome) *collaborator.QualityReport {
	_ = o.beginPhase(rc, taskgraph.PhaseAssess)

	execResults := map[string]interface{}{}
	for id, oc := range outcomes {
		execResults[id] = map[string]interface{}{
			"success_rate": oc.result.SuccessRate,
			"strategy":     string(oc.result.Strategy),
		}
	}

	report, err := o.quality.Assess(ctx, execResults)
	if err != nil {
		o.logger.Warn("quality assessment failed, recording zero score", map[string]interface{}{
			"session_id": rc.SessionID, "error": err.Error(),
		})
		report = &collaborator.QualityReport{OverallScore: 0, MeetsThreshold: false}
	}
	rc.EndPhase(nil)
	return report
}

func (o *Orchestrator) runComplete(ctx context.Context, rc *taskgraph.RunContext, graph *taskgraph.Graph, outcomes map[string]*taskOutcome, quality *collaborator.QualityReport, result *RunResult) (*RunResult, error) {
	_ = o.beginPhase(rc, taskgraph.PhaseComplete)

	completed, total := 0, len(graph.All())
	for _, oc := range outcomes {
		if oc.task.SnapshotStatus() == taskgraph.StatusCompleted {
			completed++
			result.Deliverables[oc.task.ID] = oc.result.MergedOutput
		}
	}

	completionRate := 1.0
	if total > 0 {
		completionRate = float64(completed) / float64(total)
	}
	result.CompletionRate = completionRate

	if o.cfg.AutoArchiveComplete {
		for _, t := range graph.All() {
			if t.SnapshotStatus() == taskgraph.StatusCompleted {
				_ = t.Transition(taskgraph.StatusArchived)
			}
		}
	}

	status := "failed"
	if completionRate >= o.cfg.QualityThreshold {
		status = "completed"
	}
	result.Status = status
	result.PerformanceMetrics["completion_rate"] = completionRate
	result.PerformanceMetrics["total_tasks"] = total
	result.PerformanceMetrics["completed_tasks"] = completed

	rc.EndPhase(nil)
	result.History = rc.History()
	o.publish(Event{At: time.Now(), Kind: "phase_transition", Detail: map[string]interface{}{
		"session_id": rc.SessionID, "phase": "complete", "status": status,
	}})
	return result, nil
}
