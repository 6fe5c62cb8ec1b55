package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the two observation categories on a task stream.
type EventKind string

const (
	// EventStatus reports a lifecycle state change.
	EventStatus EventKind = "status"
	// EventArtifact reports a produced (partial or final) output.
	EventArtifact EventKind = "artifact"
)

// Status is the payload of a status event.
type Status struct {
	State   TaskState    `json:"state"`
	Message string       `json:"message,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"` // populated on failed
}

// Event is an observation of a task's progress, emitted at most once per
// meaningful change. After emission it should be treated as immutable.
//
// Sequence is strictly increasing and gap-free per task; it is assigned by the
// EventBus at publish time and lets subscribers detect gaps and duplicates.
// Final is set on the terminal status event; it is the only clean way a
// consumer learns the stream is finished.
type Event struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Kind      EventKind `json:"kind"`
	Sequence  int64     `json:"sequence"`
	Status    *Status   `json:"status,omitempty"`
	Artifact  *Artifact `json:"artifact,omitempty"`
	Final     bool      `json:"final,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatusEvent constructs a status event for a task. Terminal states are
// marked Final.
func NewStatusEvent(taskID string, status Status) Event {
	return Event{
		ID:        NewID(),
		TaskID:    taskID,
		Kind:      EventStatus,
		Status:    &status,
		Final:     status.State.Terminal(),
		Timestamp: time.Now().UTC(),
	}
}

// NewArtifactEvent constructs an artifact event for a task.
func NewArtifactEvent(taskID string, artifact Artifact) Event {
	return Event{
		ID:        NewID(),
		TaskID:    taskID,
		Kind:      EventArtifact,
		Artifact:  &artifact,
		Timestamp: time.Now().UTC(),
	}
}

// NewID generates a new unique identifier for tasks and events.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }
