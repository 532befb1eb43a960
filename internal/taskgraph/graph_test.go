package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleAcyclicLayering(t *testing.T) {
	g := New()
	g.Add(NewTask("a", "A", "", PriorityMedium, nil, nil))
	g.Add(NewTask("b", "B", "", PriorityMedium, nil, []string{"a"}))
	g.Add(NewTask("c", "C", "", PriorityMedium, nil, []string{"a"}))
	g.Add(NewTask("d", "D", "", PriorityMedium, nil, []string{"b", "c"}))

	result, err := g.Schedule()
	require.NoError(t, err)
	assert.False(t, result.CycleDetected)
	require.Len(t, result.Layers, 3)
	assert.Equal(t, []string{"a"}, result.Layers[0])
	assert.ElementsMatch(t, []string{"b", "c"}, result.Layers[1])
	assert.Equal(t, []string{"d"}, result.Layers[2])
	assert.Equal(t, []string{"a", "b", "c", "d"}, result.Flat)
}

func TestSchedulePriorityTieBreak(t *testing.T) {
	g := New()
	g.Add(NewTask("low", "Low", "", PriorityLow, nil, nil))
	g.Add(NewTask("crit", "Crit", "", PriorityCritical, nil, nil))
	g.Add(NewTask("med", "Med", "", PriorityMedium, nil, nil))

	result, err := g.Schedule()
	require.NoError(t, err)
	require.Len(t, result.Layers, 1)
	assert.Equal(t, []string{"crit", "med", "low"}, result.Layers[0])
}

func TestScheduleCycleFlattensToFinalLayer(t *testing.T) {
	g := New()
	g.Add(NewTask("x", "X", "", PriorityMedium, nil, []string{"y"}))
	g.Add(NewTask("y", "Y", "", PriorityMedium, nil, []string{"x"}))
	g.Add(NewTask("z", "Z", "", PriorityMedium, nil, nil))

	result, err := g.Schedule()
	require.NoError(t, err)
	assert.True(t, result.CycleDetected)
	require.Len(t, result.Layers, 2)
	assert.Equal(t, []string{"z"}, result.Layers[0])
	assert.ElementsMatch(t, []string{"x", "y"}, result.Layers[1])
}

func TestValidateDanglingDependency(t *testing.T) {
	g := New()
	g.Add(NewTask("a", "A", "", PriorityMedium, nil, []string{"ghost"}))
	err := g.Validate()
	assert.Error(t, err)
}

func TestValidateOK(t *testing.T) {
	g := New()
	g.Add(NewTask("a", "A", "", PriorityMedium, nil, nil))
	g.Add(NewTask("b", "B", "", PriorityMedium, nil, []string{"a"}))
	assert.NoError(t, g.Validate())
}
