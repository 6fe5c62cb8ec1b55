package core

import "context"

// ToolInvoker is the outbound tool-invocation collaborator. The runtime
// treats it as an opaque asynchronous call a handler may await (a legal
// suspension point). Implementations fail with ErrToolUnavailable for unknown
// tool names and surface execution failures as structured tool errors.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, args map[string]any) (any, error)
}

// PeerRequest is the payload of a peer-agent call: the remote skill to
// address plus its input.
type PeerRequest struct {
	Skill    string
	Input    Content
	Metadata map[string]any
}

// RemoteTask is a handle on a task running on a peer agent.
type RemoteTask interface {
	// ID returns the remote task identifier.
	ID() string

	// Await blocks until the remote task reaches a terminal state or the
	// context is cancelled, returning the final snapshot.
	Await(ctx context.Context) (*Task, error)
}

// PeerCaller is the outbound peer-agent collaborator. Like tool invocation it
// is an opaque asynchronous call handlers may await from within an
// invocation.
type PeerCaller interface {
	Send(ctx context.Context, peerAgent string, req PeerRequest) (RemoteTask, error)
}
