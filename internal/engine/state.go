package engine

import "time"

// State is a step in the query lifecycle. Terminal states are Completed
// and Failed.
type State string

const (
	StateReceived          State = "received"
	StateClassified        State = "classified"
	StateSingleShot        State = "single_shot"
	StateDecomposed        State = "decomposed"
	StateSubqueriesRunning State = "subqueries_running"
	StateSynthesizing      State = "synthesizing"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

// Transition is one recorded state change.
type Transition struct {
	State  State     `json:"state"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}
