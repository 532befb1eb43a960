package agentpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	result map[string]interface{}
	err    error
	panic  bool
	delay  time.Duration
}

func (f *fakeAgent) Execute(ctx context.Context, taskID string, payload map[string]interface{}) (map[string]interface{}, error) {
	if f.panic {
		panic("boom")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.result, f.err
}

func (f *fakeAgent) Shutdown(ctx context.Context) error { return nil }

func TestAgentInstanceRunSuccess(t *testing.T) {
	inst := NewInstance("worker", nil, &fakeAgent{result: map[string]interface{}{"ok": true}}, nil)
	assert.Equal(t, StatusIdle, inst.Status())

	result, err := inst.Run(context.Background(), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ok": true}, result)
	assert.Equal(t, StatusIdle, inst.Status())

	snap := inst.Metrics()
	assert.EqualValues(t, 1, snap.TasksCompleted)
	assert.EqualValues(t, 0, snap.TasksFailed)
}

func TestAgentInstanceRunFailureSetsErrorStatus(t *testing.T) {
	inst := NewInstance("worker", nil, &fakeAgent{err: errors.New("nope")}, nil)
	_, err := inst.Run(context.Background(), "t1", nil)
	assert.Error(t, err)
	assert.Equal(t, StatusError, inst.Status())
}

func TestAgentInstanceRunPanicIsRecovered(t *testing.T) {
	inst := NewInstance("worker", nil, &fakeAgent{panic: true}, nil)
	_, err := inst.Run(context.Background(), "t1", nil)
	assert.Error(t, err)
	assert.Equal(t, StatusError, inst.Status())
}

func TestAgentInstanceExclusiveOwnership(t *testing.T) {
	inst := NewInstance("worker", nil, &fakeAgent{delay: 50 * time.Millisecond}, nil)
	done := make(chan struct{})
	go func() {
		_, _ = inst.Run(context.Background(), "t1", nil)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	_, err := inst.Run(context.Background(), "t2", nil)
	assert.ErrorContains(t, err, "already owns")
	<-done
}

func TestAgentInstanceStickyErrorRequiresRecover(t *testing.T) {
	inst := NewInstance("worker", nil, &fakeAgent{err: errors.New("nope")}, nil)
	_, _ = inst.Run(context.Background(), "t1", nil)
	assert.Equal(t, StatusError, inst.Status())

	// Status stays error even after waiting -- no timer-based recovery.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusError, inst.Status())

	inst.Recover()
	assert.Equal(t, StatusIdle, inst.Status())
}

func TestAgentInstanceResourceTracking(t *testing.T) {
	inst := NewInstance("worker", nil, &fakeAgent{result: map[string]interface{}{}}, nil)
	assert.Zero(t, inst.CurrentTaskCount())
	_, _ = inst.Run(context.Background(), "t1", nil)
	assert.Equal(t, 1, inst.CurrentTaskCount())

	inst.SetResourceUsage(0.42)
	assert.Equal(t, 0.42, inst.ResourceUsageCPU())
}
