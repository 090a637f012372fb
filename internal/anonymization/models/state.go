package models

import (
	"fmt"

	dErrors "kanon/pkg/domain-errors"
)

// State is a phase of one anonymization run.
type State string

const (
	StateRaw                State = "RAW"
	StateGeneralizing       State = "GENERALIZING"
	StateHierarchyExhausted State = "HIERARCHY_EXHAUSTED"
	StateSuppressing        State = "SUPPRESSING"
	StateDone               State = "DONE"
	StateFailed             State = "FAILED"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransitionTo reports whether the run may move from s to next.
// FAILED is reachable from every non-terminal state.
func (s State) CanTransitionTo(next State) bool {
	if next == StateFailed {
		return !s.IsTerminal()
	}
	switch s {
	case StateRaw:
		return next == StateGeneralizing || next == StateHierarchyExhausted || next == StateDone
	case StateGeneralizing:
		return next == StateGeneralizing || next == StateHierarchyExhausted || next == StateDone
	case StateHierarchyExhausted:
		return next == StateSuppressing
	case StateSuppressing:
		return next == StateDone
	default:
		return false
	}
}

// Transition is one recorded state change. Field and Level are set for
// GENERALIZING transitions only.
type Transition struct {
	From  State  `json:"from"`
	To    State  `json:"to"`
	Field string `json:"field,omitempty"`
	Level int    `json:"level,omitempty"`
}

func (t Transition) String() string {
	if t.To == StateGeneralizing {
		return fmt.Sprintf("%s -> %s(%s,%d)", t.From, t.To, t.Field, t.Level)
	}
	return fmt.Sprintf("%s -> %s", t.From, t.To)
}

// Run tracks the state machine of one orchestration.
//
// Invariants:
//   - State starts at RAW
//   - Every change passes CanTransitionTo
//   - History lists every change in order
type Run struct {
	State   State
	History []Transition
}

func NewRun() *Run {
	return &Run{State: StateRaw}
}

// Advance moves the run to the next state.
func (r *Run) Advance(next State) error {
	return r.advance(Transition{From: r.State, To: next})
}

// Generalizing records a climb of field to level.
func (r *Run) Generalizing(field string, level int) error {
	return r.advance(Transition{From: r.State, To: StateGeneralizing, Field: field, Level: level})
}

// Fail moves the run to FAILED. Failing a finished run is a no-op.
func (r *Run) Fail() {
	if r.State.IsTerminal() {
		return
	}
	r.History = append(r.History, Transition{From: r.State, To: StateFailed})
	r.State = StateFailed
}

func (r *Run) advance(t Transition) error {
	if !r.State.CanTransitionTo(t.To) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "disallowed run transition %s -> %s", r.State, t.To)
	}
	r.History = append(r.History, t)
	r.State = t.To
	return nil
}
