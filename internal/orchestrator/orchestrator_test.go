package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsys/orchestrator/internal/agentpool"
	"github.com/agentsys/orchestrator/internal/allocator"
	"github.com/agentsys/orchestrator/internal/collaborator"
	"github.com/agentsys/orchestrator/internal/transport"
	"github.com/agentsys/orchestrator/pkg/config"
)

// fakeAnalyzer hands back a fixed single- or multi-task breakdown so tests
// don't depend on any real language model.
type fakeAnalyzer struct {
	specs []collaborator.TaskSpec
	err   error
}

func (f *fakeAnalyzer) AnalyzeIntent(ctx context.Context, text string) (*collaborator.IntentAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &collaborator.IntentAnalysis{Summary: text, Confidence: 1.0}, nil
}

func (f *fakeAnalyzer) CreateTaskBreakdown(ctx context.Context, analysis *collaborator.IntentAnalysis) ([]collaborator.TaskSpec, error) {
	return f.specs, nil
}

func (f *fakeAnalyzer) EnhanceProjectSpec(ctx context.Context, spec map[string]interface{}) (map[string]interface{}, error) {
	return spec, nil
}

type fakeAssessor struct{}

func (fakeAssessor) Assess(ctx context.Context, execResults map[string]interface{}) (*collaborator.QualityReport, error) {
	return &collaborator.QualityReport{OverallScore: 1.0, MeetsThreshold: true}, nil
}

func newTestHarness(t *testing.T, specs []collaborator.TaskSpec) (*Orchestrator, *config.Config) {
	t.Helper()
	cfg, err := config.New(
		config.WithAgentTimeout(time.Second),
		config.WithQualityThreshold(1.0),
	)
	require.NoError(t, err)

	hub := transport.NewHub(transport.Config{
		QueueCapacity: 64, AckTimeout: time.Second, RetryDelay: 10 * time.Millisecond,
		MaxRetries: 2, ReliabilityCheckInterval: 20 * time.Millisecond,
	}, nil)

	pool := agentpool.New(time.Hour, nil)
	insts := pool.CreateInstances("general", 2, nil, func() agentpool.Agent { return &agentpool.EchoAgent{Prefix: "done: "} })
	for _, inst := range insts {
		tr := hub.NewTransport(inst.ID)
		agentpool.NewRunner(inst, tr)
		tr.Run(context.Background())
	}
	pool.Start(context.Background())

	alloc := allocator.New(pool, nil)
	alloc.RegisterCapability("general", "general")

	orch := New(cfg, pool, alloc, hub, &fakeAnalyzer{specs: specs}, fakeAssessor{}, nil, nil)
	return orch, cfg
}

func TestExecuteSingleTaskCompletes(t *testing.T) {
	specs := []collaborator.TaskSpec{
		{Name: "step-one", Description: "do the thing", Priority: "high", RequiredCapabilities: []string{"general"}},
	}
	orch, _ := newTestHarness(t, specs)

	result, err := orch.Execute(context.Background(), "ship the feature", nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, 1.0, result.CompletionRate)
	assert.Len(t, result.Deliverables, 1)
}

func TestExecuteRejectsEmptyIntent(t *testing.T) {
	orch, _ := newTestHarness(t, nil)
	_, err := orch.Execute(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestExecuteMultiTaskDependencyOrder(t *testing.T) {
	specs := []collaborator.TaskSpec{
		{Name: "scout", Description: "explore", Priority: "high", RequiredCapabilities: []string{"general"}},
		{Name: "build", Description: "build it", Priority: "high", RequiredCapabilities: []string{"general"}, Dependencies: []string{"scout"}},
	}
	orch, _ := newTestHarness(t, specs)

	result, err := orch.Execute(context.Background(), "build the thing", nil)
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Len(t, result.Deliverables, 2)
}

func TestExecuteUnknownCapabilityFailsRun(t *testing.T) {
	specs := []collaborator.TaskSpec{
		{Name: "translate", Description: "translate text", Priority: "high", RequiredCapabilities: []string{"translation"}},
	}
	orch, _ := newTestHarness(t, specs)

	result, err := orch.Execute(context.Background(), "translate this", nil)
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestStatusReflectsActiveAgentTypes(t *testing.T) {
	orch, _ := newTestHarness(t, nil)
	status := orch.Status()
	assert.Contains(t, status.AgentTypes, "general")
	assert.False(t, status.ShuttingDown)
}

func TestShutdownIsIdempotentAndStopsPool(t *testing.T) {
	orch, _ := newTestHarness(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, orch.Shutdown(ctx))
	require.NoError(t, orch.Shutdown(ctx))
	assert.True(t, orch.Status().ShuttingDown)
}

func TestExecuteRejectedAfterShutdown(t *testing.T) {
	orch, _ := newTestHarness(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, orch.Shutdown(ctx))

	_, err := orch.Execute(context.Background(), "anything", nil)
	assert.Error(t, err)
}
