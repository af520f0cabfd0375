// Package workflow holds the domain entities and the workflow state machine
// shared by the engine, storage, and API layers.
package workflow

import (
	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
)

// Status is the closed set of workflow states shared by sessions, steps,
// and runs.
type Status string

const (
	StatusPending              Status = "pending"
	StatusAwaitingPlanApproval Status = "awaiting_plan_approval"
	StatusAwaitingStepApproval Status = "awaiting_step_approval"
	StatusRunning              Status = "running"
	StatusSucceeded            Status = "succeeded"
	StatusFailed               Status = "failed"
	StatusCancelled            Status = "cancelled"
	StatusSkipped              Status = "skipped"
)

// TransitionRules is the legal-transition table. It is data, not code: the
// state machine consults it and nothing else.
var TransitionRules = map[Status][]Status{
	StatusPending:              {StatusAwaitingPlanApproval, StatusCancelled},
	StatusAwaitingPlanApproval: {StatusAwaitingStepApproval, StatusCancelled},
	StatusAwaitingStepApproval: {StatusRunning, StatusSkipped, StatusCancelled},
	StatusRunning:              {StatusSucceeded, StatusFailed, StatusCancelled, StatusSkipped},
	StatusSucceeded:            {},
	StatusFailed:               {},
	StatusCancelled:            {},
	StatusSkipped:              {},
}

// IsTerminal reports whether s admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// Valid reports whether s is a member of the closed set.
func (s Status) Valid() bool {
	_, ok := TransitionRules[s]
	return ok
}

// CanTransition reports whether current -> next is a legal move.
func CanTransition(current, next Status) bool {
	for _, allowed := range TransitionRules[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Apply validates current -> next and returns next, or an
// InvalidTransition error.
func Apply(current, next Status) (Status, error) {
	if !CanTransition(current, next) {
		return current, domainerrors.InvalidTransition(string(current), string(next))
	}
	return next, nil
}

// NeedsReplanFor reports whether a run ending in status forces a replan.
func NeedsReplanFor(status Status) bool {
	return status == StatusFailed
}
