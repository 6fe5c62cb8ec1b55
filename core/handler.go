package core

// Handler is the capability interface implemented once per skill. Dispatch is
// a map lookup against the registry, not inheritance.
//
// Invoke runs with at-most-one active invocation per task. It may suspend at
// two legal yield points: awaiting caller input (TaskContext.AwaitInput) and
// awaiting an external call (tool invocation or peer-agent call). A handler
// observes cooperative cancellation through the context and through errors
// returned by TaskContext mutation helpers.
type Handler interface {
	// Skill returns the capability metadata this handler serves.
	Skill() Skill

	// Invoke executes the skill. Returning a Result completes the task;
	// returning an error fails it with structured detail. A panic is
	// recovered by the dispatch engine and treated as a handler fault.
	Invoke(tc *TaskContext) (*Result, error)
}

// Result is a handler's terminal outcome: an optional status message and the
// final artifacts to append before the task completes.
type Result struct {
	Message   string
	Artifacts []Artifact
}

// TextResult is a convenience constructor for a single text artifact result.
func TextResult(name, text string) *Result {
	return &Result{Artifacts: []Artifact{TextArtifact(name, text)}}
}
