package allocator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsys/orchestrator/internal/agentpool"
)

type noopAgent struct{}

func (noopAgent) Execute(ctx context.Context, taskID string, payload map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}
func (noopAgent) Shutdown(ctx context.Context) error { return nil }

func newPoolWithType(agentType string, n int) *agentpool.Pool {
	p := agentpool.New(time.Hour, nil)
	p.CreateInstances(agentType, n, nil, func() agentpool.Agent { return noopAgent{} })
	return p
}

func TestResolveTypeSingleCapability(t *testing.T) {
	pool := newPoolWithType("coder", 1)
	a := New(pool, nil)
	a.RegisterCapability("write_code", "coder")

	inst, err := a.Allocate(context.Background(), "t1", []string{"write_code"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "coder", inst.Type)
}

func TestResolveTypeRequiresIntersection(t *testing.T) {
	pool := newPoolWithType("fullstack", 1)
	a := New(pool, nil)
	a.RegisterCapability("write_code", "fullstack")
	a.RegisterCapability("write_code", "backend")
	a.RegisterCapability("review", "fullstack")

	typ, err := a.resolveType([]string{"write_code", "review"})
	require.NoError(t, err)
	assert.Equal(t, "fullstack", typ)
}

func TestResolveTypeUnknownCapabilityFailsFast(t *testing.T) {
	pool := newPoolWithType("coder", 1)
	a := New(pool, nil)
	a.RegisterCapability("write_code", "coder")

	start := time.Now()
	_, err := a.Allocate(context.Background(), "t1", []string{"translate"}, time.Second)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestAllocateTimesOutWhenNoIdleInstance(t *testing.T) {
	pool := newPoolWithType("coder", 1)
	a := New(pool, nil)
	a.RegisterCapability("write_code", "coder")

	// Exhaust the only instance.
	_, err := pool.Acquire("coder", "busy-task")
	require.NoError(t, err)

	_, err = a.Allocate(context.Background(), "t1", []string{"write_code"}, 40*time.Millisecond)
	assert.Error(t, err)
}

func TestAllocateSucceedsOnceInstanceFreed(t *testing.T) {
	pool := newPoolWithType("coder", 1)
	a := New(pool, nil)
	a.RegisterCapability("write_code", "coder")

	inst, err := pool.Acquire("coder", "busy-task")
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		pool.Release(inst.ID)
	}()

	got, err := a.Allocate(context.Background(), "t1", []string{"write_code"}, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, got.ID)
}
