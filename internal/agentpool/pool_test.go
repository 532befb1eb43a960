package agentpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory() func() Agent {
	return func() Agent { return &fakeAgent{result: map[string]interface{}{}} }
}

func TestPoolFindIdleTieBreak(t *testing.T) {
	p := New(time.Hour, nil)
	instances := p.CreateInstances("worker", 3, nil, newTestFactory())

	instances[0].SetResourceUsage(0.5)
	instances[1].SetResourceUsage(0.1)
	instances[2].SetResourceUsage(0.1)
	// same cpu for 1 and 2: break on task count
	instances[1].acquire("warmup")
	instances[1].release(StatusIdle)

	idle := p.FindIdle("worker")
	require.Len(t, idle, 3)
	assert.Equal(t, instances[2].ID, idle[0].ID) // lowest cpu, zero task count
	assert.Equal(t, instances[1].ID, idle[1].ID) // same cpu, one prior task
	assert.Equal(t, instances[0].ID, idle[2].ID) // highest cpu last
}

func TestPoolAcquireRelease(t *testing.T) {
	p := New(time.Hour, nil)
	instances := p.CreateInstances("worker", 1, nil, newTestFactory())

	inst, err := p.Acquire("worker", "t1")
	require.NoError(t, err)
	assert.Equal(t, instances[0].ID, inst.ID)

	_, err = p.Acquire("worker", "t2")
	assert.Error(t, err)

	p.Release(inst.ID)
	inst2, err := p.Acquire("worker", "t3")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, inst2.ID)
}

func TestPoolAcquireUnknownType(t *testing.T) {
	p := New(time.Hour, nil)
	_, err := p.Acquire("ghost", "t1")
	assert.Error(t, err)
}

func TestPoolScanTripsStalledBusyInstance(t *testing.T) {
	// 2*heartbeatInterval is the staleness threshold; 10ms gives a 20ms
	// window well inside the sleep below.
	p := New(10*time.Millisecond, nil)
	instances := p.CreateInstances("worker", 1, nil, newTestFactory())
	inst := instances[0]
	inst.acquire("stuck-task")

	time.Sleep(30 * time.Millisecond)
	p.scanOnce()

	assert.Equal(t, StatusError, inst.Status())
}

func TestPoolAlertThresholdFires(t *testing.T) {
	p := New(time.Hour, nil)
	// One of two instances healthy is a 0.5 fraction, below the 0.75 bar.
	p.SetAlertThreshold("worker", AlertThreshold{MinIdleFraction: 0.75})
	instances := p.CreateInstances("worker", 2, nil, newTestFactory())
	instances[0].acquire("t1") // still "healthy" (busy, within timeout)
	instances[1].Trip()        // tripped -- status error, unhealthy

	p.scanOnce()

	select {
	case alert := <-p.Alerts():
		assert.Equal(t, "worker", alert.AgentType)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected an alert")
	}
}

func TestPoolShutdown(t *testing.T) {
	p := New(time.Millisecond, nil)
	p.CreateInstances("worker", 2, nil, newTestFactory())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	require.NoError(t, p.Shutdown(context.Background()))
}
