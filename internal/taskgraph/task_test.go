package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusReady, true},
		{StatusPending, StatusInProgress, false},
		{StatusReady, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusBlocked, true},
		{StatusCompleted, StatusArchived, true},
		{StatusCompleted, StatusInProgress, false},
		{StatusBlocked, StatusReady, false},
		{StatusPending, StatusCancelled, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusArchived, StatusCancelled, false},
		{StatusPending, StatusPending, false},
	}
	for _, c := range cases {
		got := CanTransition(c.from, c.to)
		assert.Equalf(t, c.want, got, "CanTransition(%s, %s)", c.from, c.to)
	}
}

func TestTaskTransition(t *testing.T) {
	task := NewTask("t1", "Task One", "desc", PriorityHigh, []string{"scout"}, nil)
	require.Equal(t, StatusPending, task.SnapshotStatus())

	require.NoError(t, task.Transition(StatusReady))
	require.NoError(t, task.Transition(StatusInProgress))

	err := task.Transition(StatusArchived)
	assert.Error(t, err)
	assert.Equal(t, StatusInProgress, task.SnapshotStatus())

	require.NoError(t, task.Transition(StatusCompleted))
	assert.NotNil(t, task.CompletedAt)

	require.NoError(t, task.Transition(StatusArchived))
	assert.NotNil(t, task.ArchivedAt)
}

func TestTaskAssignAgent(t *testing.T) {
	task := NewTask("t1", "Task One", "desc", PriorityMedium, nil, nil)
	task.AssignAgent("agent-b")
	task.AssignAgent("agent-a")
	task.AssignAgent("agent-a")
	assert.Equal(t, []string{"agent-a", "agent-b"}, task.AssignedAgentIDs())
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "critical", PriorityCritical.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "medium", PriorityMedium.String())
	assert.Equal(t, "low", PriorityLow.String())
}
