package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned at request boundaries. They are never silently
// swallowed: callers receive them synchronously from the operation that
// triggered them. ErrAgentBusy and ErrSlowConsumer are recoverable-by-retry
// signals, not task failures.
var (
	// ErrInvalidSkill is returned by submit when the requested skill has no
	// registered agent. No task record is created.
	ErrInvalidSkill = errors.New("invalid skill")
	// ErrSkillNotFound is returned by the router when a skill resolves to no
	// handler.
	ErrSkillNotFound = errors.New("skill not found")
	// ErrTaskNotFound is returned for operations on unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotActive is returned when an artifact append or similar mutation
	// targets a task outside the working / input_required states.
	ErrTaskNotActive = errors.New("task not active")
	// ErrDuplicateSkill is returned when a registration claims a skill already
	// owned by a different agent.
	ErrDuplicateSkill = errors.New("duplicate skill")
	// ErrAgentBusy is returned when an agent's bounded work queue is full.
	// Callers should retry; the submission had no effect.
	ErrAgentBusy = errors.New("agent busy")
	// ErrInputTimeout is returned to a handler whose input_required wait
	// expired; the task has already been failed with kind input_timeout.
	ErrInputTimeout = errors.New("input timeout")
	// ErrSlowConsumer signals that a subscriber was disconnected because its
	// delivery buffer overflowed. The task itself is unaffected.
	ErrSlowConsumer = errors.New("slow consumer")
	// ErrToolUnavailable is returned by a ToolInvoker for unknown tool names.
	ErrToolUnavailable = errors.New("tool unavailable")
	// ErrIllegalTransition is the sentinel matched (via errors.Is) by
	// IllegalTransitionError values.
	ErrIllegalTransition = errors.New("illegal transition")
)

// IllegalTransitionError reports a rejected state transition together with
// the offending edge.
type IllegalTransitionError struct {
	TaskID string
	From   TaskState
	To     TaskState
}

// Error implements the error interface.
func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}

// Is reports ErrIllegalTransition equivalence for errors.Is.
func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// HandlerFault wraps an uncaught panic recovered from a skill handler. It is
// treated identically to a handler error (task fails, engine survives) but is
// logged with greater severity.
type HandlerFault struct {
	TaskID    string
	Skill     string
	Recovered any
}

// Error implements the error interface.
func (e *HandlerFault) Error() string {
	return fmt.Sprintf("handler fault in skill %q for task %s: %v", e.Skill, e.TaskID, e.Recovered)
}
