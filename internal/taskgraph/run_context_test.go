package taskgraph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunContextPhaseOrder(t *testing.T) {
	rc := NewRunContext("s1", "build a thing", 0.8)

	require.NoError(t, rc.BeginPhase(PhaseAnalyze))
	rc.EndPhase(nil)

	err := rc.BeginPhase(PhaseAllocate) // skips plan
	require.Error(t, err)
	var orderErr *PhaseOrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, PhasePlan, orderErr.Expected)

	require.NoError(t, rc.BeginPhase(PhasePlan))
	rc.EndPhase(errors.New("boom"))

	history := rc.History()
	require.Len(t, history, 2)
	assert.Equal(t, PhaseAnalyze, history[0].Phase)
	assert.NoError(t, history[0].Err)
	assert.Equal(t, PhasePlan, history[1].Phase)
	assert.Error(t, history[1].Err)
}

func TestRunContextCannotReenterPhase(t *testing.T) {
	rc := NewRunContext("s1", "intent", 1.0)
	require.NoError(t, rc.BeginPhase(PhaseAnalyze))
	err := rc.BeginPhase(PhaseAnalyze)
	assert.Error(t, err)
}

func TestRunContextActiveAgents(t *testing.T) {
	rc := NewRunContext("s1", "intent", 1.0)
	rc.ActivateAgent("a1")
	rc.ActivateAgent("a2")
	assert.ElementsMatch(t, []string{"a1", "a2"}, rc.ActiveAgentIDs())
	rc.DeactivateAgent("a1")
	assert.Equal(t, []string{"a2"}, rc.ActiveAgentIDs())
}
