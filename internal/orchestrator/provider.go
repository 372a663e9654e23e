package orchestrator

import "context"

// TaskState is the provider-side state of a submitted generation task.
type TaskState string

const (
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// TaskStatus is a snapshot of a provider task.
type TaskStatus struct {
	State     TaskState
	ResultRef string // Location of the generated artifact, set on completion
	Reason    string // Provider failure reason, set on failure
}

// Provider is the external generation backend. Submit hands off the work and
// returns the provider's task handle; Status is polled until the task reaches
// a terminal state.
type Provider interface {
	Submit(ctx context.Context, jobKind string, parameters map[string]string) (string, error)
	Status(ctx context.Context, taskID string) (*TaskStatus, error)
}
