// Package strategy runs a task's assigned agents according to its
// coordination strategy: sequential, parallel, pipeline, or hierarchical.
// Grounded on the teacher's orchestration.Executor/ExecutionResult shape
// (orchestration/interfaces.go) -- retargeted from a routing-plan executor
// driving remote HTTP agents onto one driving in-process AgentInstances
// over the Transport's request_response call.
package strategy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentsys/orchestrator/internal/agentpool"
	"github.com/agentsys/orchestrator/internal/transport"
	"github.com/agentsys/orchestrator/pkg/logging"
)

// Kind names a coordination strategy.
type Kind string

const (
	KindSequential   Kind = "sequential"
	KindParallel     Kind = "parallel"
	KindPipeline     Kind = "pipeline"
	KindHierarchical Kind = "hierarchical"
)

// hierarchicalOrder is the fixed type execution order spec.md §4.3 pins
// for the hierarchical strategy.
var hierarchicalOrder = []string{"scout", "code", "quality", "documentation", "review"}

// Select picks a default strategy for a set of assigned agent types when
// the caller did not pin one: one agent -> sequential; every agent a
// distinct type -> pipeline; every agent the same type -> parallel;
// otherwise hierarchical.
func Select(agentTypes []string) Kind {
	if len(agentTypes) <= 1 {
		return KindSequential
	}
	distinct := map[string]int{}
	for _, t := range agentTypes {
		distinct[t]++
	}
	if len(distinct) == len(agentTypes) {
		return KindPipeline
	}
	if len(distinct) == 1 {
		return KindParallel
	}
	return KindHierarchical
}

// AgentResult is one agent's outcome within a task execution.
type AgentResult struct {
	AgentID       string
	AgentType     string
	Success       bool
	Output        map[string]interface{}
	Error         string
	ExecutionTime time.Duration
}

// Result aggregates every agent's outcome for one task.
type Result struct {
	TaskID      string
	Strategy    Kind
	Results     []AgentResult
	MergedOutput map[string]interface{}
	SuccessRate float64
}

// Assignment is one agent instance bound to a task, in allocation order.
type Assignment struct {
	Instance *agentpool.AgentInstance
}

// Engine drives assignments through a coordination strategy, dispatching
// each agent call as a Transport request_response so the same call path
// exercises priority queues, retries, and checksums whether the agent is
// in-process or remote in a future multi-process deployment.
type Engine struct {
	transport    *transport.Transport
	agentTimeout time.Duration
	logger       logging.Logger
}

func New(t *transport.Transport, agentTimeout time.Duration, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &Engine{transport: t, agentTimeout: agentTimeout, logger: logger}
}

// Run executes assignments against payload using strategy, returning the
// aggregated Result. basePayload is the task's own fields; each call's
// context_data is layered on top per the strategy's contract.
func (e *Engine) Run(ctx context.Context, taskID string, strategy Kind, assignments []Assignment, basePayload map[string]interface{}) *Result {
	switch strategy {
	case KindParallel:
		return e.runParallel(ctx, taskID, assignments, basePayload)
	case KindPipeline:
		return e.runPipeline(ctx, taskID, assignments, basePayload)
	case KindHierarchical:
		return e.runHierarchical(ctx, taskID, assignments, basePayload)
	default:
		return e.runSequential(ctx, taskID, assignments, basePayload)
	}
}

// callAgent builds a task_execution message and dispatches it via the
// Transport's request_response call (spec.md §4.3), so every per-agent
// call -- in-process today, potentially remote in a future multi-process
// deployment -- exercises the same priority queue, checksum, and timeout
// path. A timeout or transport error becomes {success:false, error:...}
// without aborting sibling work.
func (e *Engine) callAgent(ctx context.Context, taskID string, a Assignment, contextData map[string]interface{}, basePayload map[string]interface{}) AgentResult {
	start := time.Now()
	payload := mergeMaps(basePayload, map[string]interface{}{"context_data": contextData, "task_id": taskID})

	resp, err := e.transport.RequestResponse(ctx, a.Instance.ID, payload, transport.PriorityNormal, e.agentTimeout)
	elapsed := time.Since(start)
	if err != nil {
		return AgentResult{AgentID: a.Instance.ID, AgentType: a.Instance.Type, Success: false, Error: err.Error(), ExecutionTime: elapsed}
	}

	success, _ := resp.Payload["success"].(bool)
	if !success {
		errMsg, _ := resp.Payload["error"].(string)
		return AgentResult{AgentID: a.Instance.ID, AgentType: a.Instance.Type, Success: false, Error: errMsg, ExecutionTime: elapsed}
	}

	output := map[string]interface{}{}
	for k, v := range resp.Payload {
		if k == "success" {
			continue
		}
		output[k] = v
	}
	return AgentResult{AgentID: a.Instance.ID, AgentType: a.Instance.Type, Success: true, Output: output, ExecutionTime: elapsed}
}

func (e *Engine) runSequential(ctx context.Context, taskID string, assignments []Assignment, basePayload map[string]interface{}) *Result {
	merged := map[string]interface{}{}
	var results []AgentResult
	for _, a := range assignments {
		r := e.callAgent(ctx, taskID, a, merged, basePayload)
		results = append(results, r)
		if r.Success {
			merged = mergeMaps(merged, r.Output)
		}
	}
	return aggregate(taskID, KindSequential, results)
}

func (e *Engine) runParallel(ctx context.Context, taskID string, assignments []Assignment, basePayload map[string]interface{}) *Result {
	results := make([]AgentResult, len(assignments))
	var wg sync.WaitGroup
	for i, a := range assignments {
		wg.Add(1)
		go func(i int, a Assignment) {
			defer wg.Done()
			results[i] = e.callAgent(ctx, taskID, a, map[string]interface{}{}, basePayload)
		}(i, a)
	}
	wg.Wait()
	return aggregate(taskID, KindParallel, results)
}

func (e *Engine) runPipeline(ctx context.Context, taskID string, assignments []Assignment, basePayload map[string]interface{}) *Result {
	var results []AgentResult
	stageContext := map[string]interface{}{}
	for _, a := range assignments {
		r := e.callAgent(ctx, taskID, a, stageContext, basePayload)
		results = append(results, r)
		if r.Success {
			stageContext = r.Output
		}
		// on failure, stageContext is left as the last successful stage's
		// output -- subsequent stages still run per spec.md §4.3.
	}
	return aggregate(taskID, KindPipeline, results)
}

func (e *Engine) runHierarchical(ctx context.Context, taskID string, assignments []Assignment, basePayload map[string]interface{}) *Result {
	groups := map[string][]Assignment{}
	for _, a := range assignments {
		groups[a.Instance.Type] = append(groups[a.Instance.Type], a)
	}

	var results []AgentResult
	accumulated := map[string]interface{}{}
	for _, agentType := range hierarchicalOrder {
		group := groups[agentType]
		if len(group) == 0 {
			continue
		}
		groupResults := make([]AgentResult, len(group))
		var wg sync.WaitGroup
		for i, a := range group {
			wg.Add(1)
			go func(i int, a Assignment) {
				defer wg.Done()
				groupResults[i] = e.callAgent(ctx, taskID, a, accumulated, basePayload)
			}(i, a)
		}
		wg.Wait()
		for _, r := range groupResults {
			results = append(results, r)
			if r.Success {
				accumulated = mergeMaps(accumulated, r.Output)
			}
		}
	}

	// Any assignment whose type falls outside the fixed order still runs,
	// appended after the known groups, so no agent is silently skipped.
	knownTypes := map[string]bool{}
	for _, t := range hierarchicalOrder {
		knownTypes[t] = true
	}
	var leftover []Assignment
	for _, a := range assignments {
		if !knownTypes[a.Instance.Type] {
			leftover = append(leftover, a)
		}
	}
	sort.Slice(leftover, func(i, j int) bool { return leftover[i].Instance.ID < leftover[j].Instance.ID })
	for _, a := range leftover {
		r := e.callAgent(ctx, taskID, a, accumulated, basePayload)
		results = append(results, r)
		if r.Success {
			accumulated = mergeMaps(accumulated, r.Output)
		}
	}

	return aggregate(taskID, KindHierarchical, results)
}

func aggregate(taskID string, strategy Kind, results []AgentResult) *Result {
	merged := map[string]interface{}{}
	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
			merged = mergeMaps(merged, r.Output)
		}
	}
	rate := 0.0
	if len(results) > 0 {
		rate = float64(successful) / float64(len(results))
	}
	return &Result{TaskID: taskID, Strategy: strategy, Results: results, MergedOutput: merged, SuccessRate: rate}
}

func mergeMaps(maps ...map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
