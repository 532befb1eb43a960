package agentpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentsys/orchestrator/internal/transport"
)

func TestRunnerHandlesTaskExecution(t *testing.T) {
	hub := transport.NewHub(transport.Config{
		QueueCapacity: 16, AckTimeout: time.Second, RetryDelay: 10 * time.Millisecond, MaxRetries: 2,
		ReliabilityCheckInterval: 10 * time.Millisecond,
	}, nil)

	inst := NewInstance("worker", nil, &fakeAgent{result: map[string]interface{}{"greeting": "hi"}}, nil)
	agentTransport := hub.NewTransport(inst.ID)
	NewRunner(inst, agentTransport)

	callerTransport := hub.NewTransport("caller")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	agentTransport.Run(ctx)
	callerTransport.Run(ctx)

	resp, err := callerTransport.RequestResponse(context.Background(), inst.ID, map[string]interface{}{"task_id": "t1"}, transport.PriorityNormal, time.Second)
	require.NoError(t, err)
	require.Equal(t, true, resp.Payload["success"])
	require.Equal(t, "hi", resp.Payload["greeting"])
}
