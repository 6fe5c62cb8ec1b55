package core

import "time"

// TaskState is the lifecycle state of a Task. The allowed transitions form a
// small state machine; see CanTransitionTo for the legality table.
type TaskState string

const (
	// StateSubmitted is the initial state assigned at task creation.
	StateSubmitted TaskState = "submitted"
	// StateWorking indicates a handler invocation is in flight.
	StateWorking TaskState = "working"
	// StateInputRequired indicates the handler suspended awaiting caller input.
	StateInputRequired TaskState = "input_required"
	// StateCompleted is the successful terminal state.
	StateCompleted TaskState = "completed"
	// StateFailed is the unsuccessful terminal state; the task carries an
	// ErrorDetail describing the failure.
	StateFailed TaskState = "failed"
	// StateCanceled is the terminal state reached via a cancel request.
	StateCanceled TaskState = "canceled"
)

// legalTransitions is the closed edge set of the task state machine.
// input_required -> failed covers the input timeout path.
var legalTransitions = map[TaskState][]TaskState{
	StateSubmitted:     {StateWorking, StateCanceled},
	StateWorking:       {StateInputRequired, StateCompleted, StateFailed, StateCanceled},
	StateInputRequired: {StateWorking, StateFailed, StateCanceled},
	StateCompleted:     {},
	StateFailed:        {},
	StateCanceled:      {},
}

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// CanTransitionTo reports whether a transition from s to the target state is a
// listed edge of the state machine.
func (s TaskState) CanTransitionTo(to TaskState) bool {
	for _, t := range legalTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition is one recorded edge traversal in a task's history.
type Transition struct {
	From      TaskState `json:"from"`
	To        TaskState `json:"to"`
	Detail    string    `json:"detail,omitempty"` // optional human-readable note
	Timestamp time.Time `json:"timestamp"`
}

// Artifact is an output produced by a handler, partial or final. Artifacts
// accumulate on the task in emission order; Index is assigned by the store.
type Artifact struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Index       int            `json:"index"`
	Append      bool           `json:"append,omitempty"`    // continues the previous artifact with the same name
	LastChunk   bool           `json:"lastChunk,omitempty"` // marks the final chunk of a streamed artifact
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TextArtifact is a convenience constructor for a single-text-part artifact.
func TextArtifact(name, text string) Artifact {
	return Artifact{Name: name, Parts: []Part{TextPart{Text: text}}}
}

// Error detail kinds recorded on failed tasks.
const (
	// ErrorKindHandlerError marks a failure returned by a handler.
	ErrorKindHandlerError = "handler_error"
	// ErrorKindHandlerFault marks an uncaught handler panic.
	ErrorKindHandlerFault = "handler_fault"
	// ErrorKindInputTimeout marks an expired input_required wait.
	ErrorKindInputTimeout = "input_timeout"
	// ErrorKindToolError marks a failure surfaced by a tool collaborator.
	ErrorKindToolError = "tool_error"
)

// ErrorDetail is the structured failure record attached to a failed task.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Error implements the error interface so an ErrorDetail can travel as a
// regular error value.
func (e *ErrorDetail) Error() string { return e.Kind + ": " + e.Message }

// Task is the unit of requested work addressed to a skill. A task record is
// owned exclusively by the TaskStore; callers always operate on snapshots.
//
// Invariants maintained by the store:
//   - exactly one record exists per ID
//   - State changes follow the state machine; terminal states are final
//   - History and Artifacts are append-only
type Task struct {
	ID        string         `json:"id"`
	Skill     string         `json:"skill"`
	Agent     string         `json:"agent"` // owning agent, resolved at submission
	Input     Content        `json:"input"`
	State     TaskState      `json:"state"`
	History   []Transition   `json:"history"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Error     *ErrorDetail   `json:"error,omitempty"` // present only when State == failed
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Clone returns a deep-enough copy for safe external consumption: slices and
// maps are copied, part payloads are shared (parts are treated as immutable
// after emission).
func (t *Task) Clone() *Task {
	c := *t
	c.History = append([]Transition(nil), t.History...)
	c.Artifacts = append([]Artifact(nil), t.Artifacts...)
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	return &c
}
