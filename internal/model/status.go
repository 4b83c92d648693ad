package model

// RunState is the process wide state of forecast execution.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateQueued    RunState = "queued"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// Active reports whether a cold job holds the gate in this state.
func (s RunState) Active() bool {
	return s == RunStateQueued || s == RunStateRunning
}

// Status is a polling snapshot. Message keeps the human readable outcome of
// the last run after the state went back to idle.
type Status struct {
	Running bool     `json:"running"`
	State   RunState `json:"state"`
	Message string   `json:"message"`
	RunID   string   `json:"runId,omitempty"`
}
