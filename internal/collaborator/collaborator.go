// Package collaborator declares the external hook interfaces the
// orchestrator calls into but never implements itself: intent analysis,
// quality assessment, and optional resource allocation. Grounded on the
// teacher's AIClient/Discovery boundary (core/interfaces.go) -- the core
// depends only on these interfaces, never on any concrete LLM or resource
// manager, so swapping collaborators never touches orchestrator code.
package collaborator

import "context"

// TaskSpec is one unit of work an IntentAnalyzer's breakdown proposes to
// the planner; the planner turns each TaskSpec into a taskgraph.Task.
type TaskSpec struct {
	Name                 string
	Description          string
	Priority             string // "critical" | "high" | "medium" | "low"
	RequiredCapabilities []string
	Dependencies         []string
}

// IntentAnalysis is the output of analyzing a raw user intent string.
type IntentAnalysis struct {
	Summary    string
	Entities   map[string]interface{}
	Confidence float64
}

// IntentAnalyzer turns free-form intent text into a structured analysis
// and then into a concrete task breakdown. The core never parses natural
// language itself; a failing analyze_intent call fails the analyze phase.
type IntentAnalyzer interface {
	AnalyzeIntent(ctx context.Context, text string) (*IntentAnalysis, error)
	CreateTaskBreakdown(ctx context.Context, analysis *IntentAnalysis) ([]TaskSpec, error)
	EnhanceProjectSpec(ctx context.Context, spec map[string]interface{}) (map[string]interface{}, error)
}

// QualityReport is the result of assessing a run's execution results.
type QualityReport struct {
	OverallScore    float64
	MeetsThreshold  bool
	Recommendations []string
}

// QualityAssessor scores a run's aggregated execution results during the
// assess phase. Never fails the run: a failing assessor call is recorded
// as a zero score rather than aborting completion.
type QualityAssessor interface {
	Assess(ctx context.Context, execResults map[string]interface{}) (*QualityReport, error)
}

// ResourceAllocation is the result of an optional external capacity check.
type ResourceAllocation struct {
	Allocated   map[string]interface{}
	Insufficient []string
	Warnings    []string
}

// ResourceAllocator is an optional collaborator. The orchestrator accepts
// one but does not call it during a run, and resources.* config values are
// read by nothing in the core itself.
type ResourceAllocator interface {
	Allocate(ctx context.Context, metaProject map[string]interface{}) (*ResourceAllocation, error)
}
