package workflow

import "time"

// State is the lifecycle position of one run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateCanceled  State = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateCanceled
}

var transitions = map[State][]State{
	StatePending: {StateRunning, StateAborted, StateCanceled},
	StateRunning: {StateRunning, StateCompleted, StateAborted, StateCanceled},
}

func (s State) canMoveTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Run describes one execution of a plan.
type Run struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Current   int       `json:"current"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
}

func (r *Run) moveTo(next State) {
	if !r.State.canMoveTo(next) {
		panic("workflow: illegal transition " + string(r.State) + " -> " + string(next))
	}
	r.State = next
	if next.Terminal() {
		r.EndedAt = time.Now()
	}
}
