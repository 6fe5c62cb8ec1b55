package core

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/logging"
)

// TaskContext carries execution state & helpers for a single handler
// invocation. It encapsulates the mutable, per-task execution scope passed to
// a Handler's Invoke method. It aggregates:
//
//   - The ambient cancellation Context (cancelled on task cancel)
//   - Identifiers (TaskID, Skill) and the immutable caller Input
//   - Progress reporting (artifact append + status messages) via the store
//   - The await-input / resume coordination channel and its timeout
//   - Outbound collaborators (tools, peer agents)
//
// All mutation flows through the TaskStore's narrow operation set, so the
// per-task serialization and terminal-state guarantees apply: once the task
// is canceled, Progress and AwaitInput fail and the handler should unwind.
type TaskContext struct {
	Context context.Context
	TaskID  string
	Skill   string
	Input   Content

	Store TaskStore
	Tools ToolInvoker
	Peers PeerCaller

	resume       <-chan Content
	inputTimeout time.Duration

	*loggerAdapter
}

// NewTaskContext constructs a TaskContext bound to a running invocation.
// resume is the channel the dispatch engine delivers caller input on;
// inputTimeout bounds AwaitInput (0 disables the timeout).
func NewTaskContext(
	ctx context.Context,
	taskID, skill string,
	input Content,
	store TaskStore,
	tools ToolInvoker,
	peers PeerCaller,
	resume <-chan Content,
	inputTimeout time.Duration,
	logger logging.Logger,
) *TaskContext {
	return &TaskContext{
		Context:       ctx,
		TaskID:        taskID,
		Skill:         skill,
		Input:         input,
		Store:         store,
		Tools:         tools,
		Peers:         peers,
		resume:        resume,
		inputTimeout:  inputTimeout,
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the invocation is cancelled.
func (tc *TaskContext) Done() <-chan struct{} { return tc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (tc *TaskContext) Err() error { return tc.Context.Err() }

// Progress appends a partial artifact to the task and publishes an artifact
// event. Fails with ErrTaskNotActive once the task left the working /
// input_required states (e.g. after cancellation).
func (tc *TaskContext) Progress(a Artifact) error {
	_, err := tc.Store.AppendArtifact(tc.TaskID, a)
	return err
}

// ProgressText is a convenience wrapper emitting a single-text-part artifact.
func (tc *TaskContext) ProgressText(name, text string) error {
	return tc.Progress(TextArtifact(name, text))
}

// AwaitInput transitions the task to input_required and suspends until the
// caller resumes it with new input, the configured timeout expires, or the
// invocation is cancelled. This is a legal yield point per the concurrency
// contract.
//
// On timeout the task is failed with kind input_timeout and ErrInputTimeout
// is returned; a resume racing the timeout wins if its transition is applied
// first (the store's per-task CAS is the single arbiter).
func (tc *TaskContext) AwaitInput(prompt string) (Content, error) {
	if err := tc.Store.Transition(tc.TaskID, StateInputRequired, prompt); err != nil {
		return Content{}, err
	}

	var timeout <-chan time.Time
	if tc.inputTimeout > 0 {
		timer := time.NewTimer(tc.inputTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case in := <-tc.resume:
		return in, nil
	case <-timeout:
		detail := &ErrorDetail{
			Kind:    ErrorKindInputTimeout,
			Message: fmt.Sprintf("no input received within %s", tc.inputTimeout),
		}
		if err := tc.Store.FailFrom(tc.TaskID, StateInputRequired, detail); err != nil {
			// A racing resume moved the task back to working before the
			// timeout transition was applied; honor the resume.
			select {
			case in := <-tc.resume:
				return in, nil
			case <-tc.Context.Done():
				return Content{}, tc.Context.Err()
			}
		}
		return Content{}, ErrInputTimeout
	case <-tc.Context.Done():
		return Content{}, tc.Context.Err()
	}
}

// InvokeTool awaits the outbound tool collaborator. Fails with
// ErrToolUnavailable for unknown tools; execution failures surface as
// structured tool errors. A nil collaborator behaves as if no tool exists.
func (tc *TaskContext) InvokeTool(name string, args map[string]any) (any, error) {
	if tc.Tools == nil {
		return nil, fmt.Errorf("%w: %q (no tool invoker configured)", ErrToolUnavailable, name)
	}
	return tc.Tools.Invoke(tc.Context, name, args)
}

// CallPeer awaits the outbound peer-agent collaborator, returning a handle on
// the remote task.
func (tc *TaskContext) CallPeer(peerAgent string, req PeerRequest) (RemoteTask, error) {
	if tc.Peers == nil {
		return nil, fmt.Errorf("no peer caller configured")
	}
	return tc.Peers.Send(tc.Context, peerAgent, req)
}
