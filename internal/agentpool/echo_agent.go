package agentpool

import "context"

// EchoAgent is a minimal Agent implementation that acknowledges whatever
// task payload it receives, echoing back a derived output field. It exists
// so a fresh deployment has at least one working agent type to allocate
// against before any real capability provider is wired in -- grounded on
// the teacher's example_tool.go pattern of a tiny reference capability
// shipped alongside the framework.
type EchoAgent struct {
	Prefix string
}

func (e *EchoAgent) Execute(ctx context.Context, taskID string, payload map[string]interface{}) (map[string]interface{}, error) {
	name, _ := payload["name"].(string)
	return map[string]interface{}{
		"echoed_task_id": taskID,
		"summary":        e.Prefix + name,
	}, nil
}

func (e *EchoAgent) Shutdown(ctx context.Context) error { return nil }
