package peer

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/dispatch"
)

// Exchange is the engine surface the loopback caller needs. *dispatch.Engine
// satisfies it.
type Exchange interface {
	Submit(ctx context.Context, p dispatch.SubmitParams) (*core.Task, error)
	Get(taskID string) (*core.Task, error)
	Subscribe(taskID string, fromSequence int64) (*core.Subscription, error)
}

// Compile time check to ensure Loopback satisfies the PeerCaller interface.
var _ core.PeerCaller = (*Loopback)(nil)

// Loopback routes peer-agent calls into the local exchange. The peerAgent
// argument is verified against the registry's routing decision so a handler
// addressing the wrong agent fails fast instead of silently running
// elsewhere.
type Loopback struct {
	exchange Exchange
	registry core.Registry
}

// NewLoopback creates a loopback caller submitting into the given exchange.
func NewLoopback(exchange Exchange, registry core.Registry) *Loopback {
	return &Loopback{exchange: exchange, registry: registry}
}

// Send submits the peer request and returns a handle on the spawned task.
func (l *Loopback) Send(ctx context.Context, peerAgent string, req core.PeerRequest) (core.RemoteTask, error) {
	if peerAgent != "" && l.registry != nil {
		res, err := l.registry.Resolve(req.Skill)
		if err != nil {
			return nil, err
		}
		if res.Agent.Name() != peerAgent {
			return nil, fmt.Errorf("%w: %q is served by agent %q, not %q",
				core.ErrSkillNotFound, req.Skill, res.Agent.Name(), peerAgent)
		}
	}

	t, err := l.exchange.Submit(ctx, dispatch.SubmitParams{
		Skill:    req.Skill,
		Input:    req.Input,
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	return &remoteTask{id: t.ID, exchange: l.exchange}, nil
}

// remoteTask is the loopback RemoteTask handle.
type remoteTask struct {
	id       string
	exchange Exchange
}

// ID returns the remote task identifier.
func (r *remoteTask) ID() string { return r.id }

// Await drains the task's event stream until it closes, then returns the
// final snapshot. A slow-consumer disconnect resubscribes from the last seen
// sequence number.
func (r *remoteTask) Await(ctx context.Context) (*core.Task, error) {
	var lastSeq int64
	for {
		sub, err := r.exchange.Subscribe(r.id, lastSeq)
		if err != nil {
			return nil, err
		}

	drain:
		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case ev, ok := <-sub.Events():
				if !ok {
					break drain
				}
				lastSeq = ev.Sequence
			}
		}

		if err := sub.Err(); err != nil && errors.Is(err, core.ErrSlowConsumer) {
			continue
		}
		return r.exchange.Get(r.id)
	}
}
