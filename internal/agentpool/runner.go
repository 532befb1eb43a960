package agentpool

import (
	"context"

	"github.com/agentsys/orchestrator/internal/transport"
)

// Runner bridges one AgentInstance onto a Transport: it registers a
// task_execution handler that runs the instance and replies with the
// result, so a strategy engine only ever needs to call
// Transport.RequestResponse, whether the instance executing the task is
// in-process (as here) or, in a future multi-process deployment, remote.
type Runner struct {
	instance  *AgentInstance
	transport *transport.Transport
}

// NewRunner wires instance to receive task_execution messages on t.
func NewRunner(instance *AgentInstance, t *transport.Transport) *Runner {
	r := &Runner{instance: instance, transport: t}
	t.RegisterHandler(transport.TypeTaskExecution, r.handle)
	return r
}

func (r *Runner) handle(ctx context.Context, msg *transport.Message) error {
	taskID, _ := msg.Payload["task_id"].(string)
	result, err := r.instance.Run(ctx, taskID, msg.Payload)
	if err != nil {
		return r.transport.Reply(msg, map[string]interface{}{"success": false, "error": err.Error()})
	}
	reply := map[string]interface{}{"success": true}
	for k, v := range result {
		reply[k] = v
	}
	return r.transport.Reply(msg, reply)
}
