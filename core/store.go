package core

// CreateParams carries the inputs for task creation. ID may be pre-allocated
// by the caller (the dispatch engine does, so admission control can run
// before a record exists); when empty the store assigns one.
type CreateParams struct {
	ID       string
	Skill    string
	Agent    string
	Input    Content
	Metadata map[string]any
}

// TaskStore is the authoritative table of task records. Implementations own
// the records exclusively: all returned tasks are snapshots, and state
// transitions for a single task are serialized (single-writer-per-task).
//
// Every successful transition appends to the task's history and publishes a
// status event; AppendArtifact publishes an artifact event. Terminal
// transitions additionally close the task's event stream.
type TaskStore interface {
	// Create allocates a new record in the submitted state.
	Create(p CreateParams) (*Task, error)

	// Get returns a snapshot of the task. Fails with ErrTaskNotFound.
	Get(id string) (*Task, error)

	// Transition applies an atomic compare-and-set guarded state change.
	// Fails with an IllegalTransitionError when the target state is not
	// reachable from the current state.
	Transition(id string, to TaskState, detail string) error

	// Fail transitions the task to failed carrying structured error detail.
	Fail(id string, detail *ErrorDetail) error

	// FailFrom transitions the task to failed only while it is still in the
	// given state. A concurrent transition that already moved the task
	// elsewhere wins; the caller observes an IllegalTransitionError.
	FailFrom(id string, from TaskState, detail *ErrorDetail) error

	// AppendArtifact appends an output while the task is working or
	// input_required; fails with ErrTaskNotActive otherwise.
	AppendArtifact(id string, a Artifact) (*Artifact, error)

	// Cancel requests the canceled terminal state from any non-terminal
	// state. Cancellation of the running handler is cooperative and handled
	// by the dispatch engine; the store transitions immediately.
	Cancel(id, reason string) error
}
