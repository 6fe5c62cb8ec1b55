// Package taskmesh provides a high-level façade over the dispatch engine and
// service abstractions (task store, event bus, registry, tools, peers)
// enabling rapid construction of multi-agent task exchanges. Most
// applications interact with this package by:
//  1. Creating an Exchange via New() (optionally overriding default in-memory services)
//  2. Registering one or more agents with their skill handlers
//  3. Submitting tasks asynchronously (Submit + Subscribe) or synchronously (SubmitSync)
//
// The façade delegates orchestration to dispatch.Engine while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply durable store
// implementations and a structured logger.
package taskmesh

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/bus"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/dispatch"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/peer"
	"github.com/hupe1980/taskmesh/registry"
	"github.com/hupe1980/taskmesh/task"
)

// Options configures the Exchange instance.
type Options struct {
	// MaxConcurrentDispatches limits the number of handler invocations that
	// can execute simultaneously across all agents. This prevents resource
	// exhaustion and provides backpressure. Set to 0 for unlimited.
	MaxConcurrentDispatches int64

	// InputTimeout bounds every input_required wait. A task whose caller
	// never resumes it fails with kind input_timeout once the timeout
	// elapses. 0 disables the timeout.
	InputTimeout time.Duration

	// SubscriberBufferSize sets the per-subscriber event delivery buffer.
	// Subscribers that fall further behind are disconnected.
	SubscriberBufferSize int

	// EnablePeerCalls wires the loopback peer caller so handlers can address
	// skills on other local agents.
	EnablePeerCalls bool

	// Services (default to in-memory implementations if not provided)
	Store    core.TaskStore
	Bus      core.EventBus
	Registry core.Registry
	Tools    core.ToolInvoker

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Exchange is the high-level façade aggregating the dispatch engine and its
// services.
type Exchange struct {
	opts     Options
	registry core.Registry
	engine   *dispatch.Engine

	mu     sync.Mutex
	agents []core.Agent
}

// New creates a new Exchange with optional overrides. Any unset service is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Exchange {
	opts := Options{
		SubscriberBufferSize: 64,
		Logger:               logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Bus == nil {
		opts.Bus = bus.New(func(o *bus.Options) {
			o.SubscriberBufferSize = opts.SubscriberBufferSize
			o.Logger = opts.Logger
		})
	}
	if opts.Store == nil {
		opts.Store = task.NewInMemoryStore(opts.Bus, func(o *task.Options) {
			o.Logger = opts.Logger
		})
	}
	if opts.Registry == nil {
		opts.Registry = registry.New(func(o *registry.Options) {
			o.Logger = opts.Logger
		})
	}

	x := &Exchange{opts: opts, registry: opts.Registry}

	x.engine = dispatch.New(opts.Registry, func(o *dispatch.Options) {
		o.Store = opts.Store
		o.Bus = opts.Bus
		o.Tools = opts.Tools
		o.InputTimeout = opts.InputTimeout
		o.MaxConcurrentDispatches = opts.MaxConcurrentDispatches
		o.Logger = opts.Logger
		if opts.EnablePeerCalls {
			o.Peers = peer.NewLoopback(lazyExchange{x}, opts.Registry)
		}
	})

	return x
}

// lazyExchange defers engine access so the loopback caller can be wired
// while the engine is still being constructed.
type lazyExchange struct{ x *Exchange }

func (l lazyExchange) Submit(ctx context.Context, p dispatch.SubmitParams) (*core.Task, error) {
	return l.x.engine.Submit(ctx, p)
}

func (l lazyExchange) Get(taskID string) (*core.Task, error) { return l.x.engine.Get(taskID) }

func (l lazyExchange) Subscribe(taskID string, fromSequence int64) (*core.Subscription, error) {
	return l.x.engine.Subscribe(taskID, fromSequence)
}

// RegisterAgent adds an agent to the exchange, claiming its skills in the
// capability directory. Fails with ErrDuplicateSkill on a conflicting claim.
// Registered agents are shut down with the exchange on Close.
func (x *Exchange) RegisterAgent(a core.Agent) error {
	if err := x.registry.Register(a); err != nil {
		return err
	}
	x.mu.Lock()
	x.agents = append(x.agents, a)
	x.mu.Unlock()
	return nil
}

// Submit routes a task to the agent serving the skill and returns the
// submitted snapshot. Observe progress with Subscribe.
func (x *Exchange) Submit(ctx context.Context, skill string, input core.Content) (*core.Task, error) {
	return x.engine.Submit(ctx, dispatch.SubmitParams{Skill: skill, Input: input})
}

// SubmitText is a convenience wrapper submitting a single text input.
func (x *Exchange) SubmitText(ctx context.Context, skill, text string) (*core.Task, error) {
	return x.Submit(ctx, skill, core.TextContent("user", text))
}

// SubmitSync submits the task, drains its full event stream and returns the
// terminal snapshot together with every observed event.
func (x *Exchange) SubmitSync(ctx context.Context, skill string, input core.Content) (*core.Task, []core.Event, error) {
	t, err := x.Submit(ctx, skill, input)
	if err != nil {
		return nil, nil, err
	}

	sub, err := x.engine.Subscribe(t.ID, 0)
	if err != nil {
		return nil, nil, err
	}

	var events []core.Event
	for {
		select {
		case <-ctx.Done():
			// Give up waiting; the task keeps running.
			return nil, events, ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return nil, events, err
				}
				final, err := x.engine.Get(t.ID)
				return final, events, err
			}
			events = append(events, ev)
		}
	}
}

// Get returns a snapshot of the task.
func (x *Exchange) Get(taskID string) (*core.Task, error) { return x.engine.Get(taskID) }

// Subscribe attaches to a task's event stream, replaying events with
// Sequence > fromSequence first. Use 0 for the full history.
func (x *Exchange) Subscribe(taskID string, fromSequence int64) (*core.Subscription, error) {
	return x.engine.Subscribe(taskID, fromSequence)
}

// Cancel requests cooperative cancellation of a task.
func (x *Exchange) Cancel(taskID, reason string) error { return x.engine.Cancel(taskID, reason) }

// Resume delivers caller input to a task suspended in input_required.
func (x *Exchange) Resume(taskID string, input core.Content) error {
	return x.engine.Resume(taskID, input)
}

// ResumeText is a convenience wrapper resuming with a single text input.
func (x *Exchange) ResumeText(taskID, text string) error {
	return x.Resume(taskID, core.TextContent("user", text))
}

// Directory returns the descriptors of all registered agents in registration
// order.
func (x *Exchange) Directory() []core.AgentDescriptor { return x.registry.List() }

// Card returns the descriptor of a single registered agent.
func (x *Exchange) Card(agent string) (core.AgentDescriptor, bool) {
	a, ok := x.registry.Lookup(agent)
	if !ok {
		return core.AgentDescriptor{}, false
	}
	return a.Descriptor(), true
}

// Close cancels all live invocations and shuts down the registered agents,
// stopping their queue workers.
func (x *Exchange) Close() {
	x.engine.Close()

	x.mu.Lock()
	agents := append([]core.Agent(nil), x.agents...)
	x.mu.Unlock()

	for _, a := range agents {
		if c, ok := a.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
