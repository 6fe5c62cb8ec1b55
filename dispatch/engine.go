package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/taskmesh/bus"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/task"
	"github.com/hupe1980/taskmesh/tool"
)

// Options holds configuration overrides passed to New(). Zero values wire
// safe in-memory defaults.
type Options struct {
	// Store is the task record table. Defaults to task.NewInMemoryStore
	// publishing to Bus.
	Store core.TaskStore
	// Bus is the event delivery mechanism. Defaults to bus.New().
	Bus core.EventBus
	// Tools is the outbound tool collaborator handed to task contexts. May be
	// nil (handlers then see ErrToolUnavailable).
	Tools core.ToolInvoker
	// Peers is the outbound peer-agent collaborator handed to task contexts.
	// May be nil.
	Peers core.PeerCaller
	// InputTimeout bounds every input_required wait. 0 disables the timeout.
	InputTimeout time.Duration
	// MaxConcurrentDispatches caps handler invocations running at once across
	// all agents. 0 means unlimited.
	MaxConcurrentDispatches int64
	// BypassAgentQueues skips agent admission control; every submission runs
	// on a fresh goroutine immediately. Intended for tests.
	BypassAgentQueues bool
	// Logging services.
	Logger logging.Logger
}

// invocation is the engine-side handle on one running (or queued) task: the
// cancel hook for cooperative cancellation and the resume channel input is
// delivered on. Buffer of one: at most a single AwaitInput is pending per
// task at any time.
type invocation struct {
	cancel context.CancelFunc
	resume chan core.Content
}

// Engine coordinates task execution. It owns no task state itself; records
// live in the store, events on the bus. Safe for concurrent use.
type Engine struct {
	registry core.Registry
	store    core.TaskStore
	bus      core.EventBus
	tools    core.ToolInvoker
	peers    core.PeerCaller
	logger   logging.Logger

	inputTimeout time.Duration
	bypassQueues bool
	sem          *semaphore.Weighted

	mu     sync.Mutex
	active map[string]*invocation
}

// New creates an engine routing through the given registry. Without explicit
// Store/Bus options an in-memory pair is wired.
func New(registry core.Registry, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Bus == nil {
		opts.Bus = bus.New(func(o *bus.Options) { o.Logger = opts.Logger })
	}
	if opts.Store == nil {
		opts.Store = task.NewInMemoryStore(opts.Bus, func(o *task.Options) { o.Logger = opts.Logger })
	}

	e := &Engine{
		registry:     registry,
		store:        opts.Store,
		bus:          opts.Bus,
		tools:        opts.Tools,
		peers:        opts.Peers,
		logger:       opts.Logger,
		inputTimeout: opts.InputTimeout,
		bypassQueues: opts.BypassAgentQueues,
		active:       make(map[string]*invocation),
	}
	if opts.MaxConcurrentDispatches > 0 {
		e.sem = semaphore.NewWeighted(opts.MaxConcurrentDispatches)
	}
	return e
}

// SubmitParams carries a task submission.
type SubmitParams struct {
	Skill    string
	Input    core.Content
	Metadata map[string]any
}

// Submit routes the skill, admits the task to the owning agent and creates
// the record in the submitted state. The returned snapshot is immediately
// subscribable. Fails with ErrInvalidSkill (no record created) for unknown
// skills and ErrAgentBusy (no record created) when the agent's queue is full.
func (e *Engine) Submit(ctx context.Context, p SubmitParams) (*core.Task, error) {
	res, err := e.registry.Resolve(p.Skill)
	if err != nil {
		if errors.Is(err, core.ErrSkillNotFound) {
			return nil, fmt.Errorf("%w: %q", core.ErrInvalidSkill, p.Skill)
		}
		return nil, err
	}

	// Admission runs before record creation so a rejected submission leaves
	// no trace. The task ID is allocated up front for the same reason.
	commit := func(job func()) { go job() }
	if !e.bypassQueues {
		commit, err = res.Agent.Admit()
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", res.Agent.Name(), err)
		}
	}

	t, err := e.store.Create(core.CreateParams{
		ID:       core.NewID(),
		Skill:    p.Skill,
		Agent:    res.Agent.Name(),
		Input:    p.Input,
		Metadata: p.Metadata,
	})
	if err != nil {
		// Hand the admission back; an unreleased reservation would shrink the
		// agent's capacity for good.
		commit(func() {})
		return nil, err
	}

	invCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inv := &invocation{cancel: cancel, resume: make(chan core.Content, 1)}

	e.mu.Lock()
	e.active[t.ID] = inv
	e.mu.Unlock()

	commit(func() { e.run(invCtx, inv, t.ID, p.Skill, p.Input, res.Handler) })

	e.logger.Debug("dispatch.submitted", "task_id", t.ID, "skill", p.Skill, "agent", res.Agent.Name())
	return t, nil
}

// run executes one handler invocation end to end. It is the only writer of
// working/completed/failed transitions for the task; cancel transitions race
// it through the store's per-task CAS.
func (e *Engine) run(ctx context.Context, inv *invocation, taskID, skill string, input core.Content, handler core.Handler) {
	defer func() {
		e.mu.Lock()
		delete(e.active, taskID)
		e.mu.Unlock()
		inv.cancel()
	}()

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			// Cancelled while waiting for a concurrency slot; the cancel
			// transition has already been applied.
			return
		}
		defer e.sem.Release(1)
	}

	start := time.Now()

	if err := e.store.Transition(taskID, core.StateWorking, "dispatched"); err != nil {
		// Cancelled while queued. The record is already terminal.
		e.logger.Debug("dispatch.skipped", "task_id", taskID, "reason", err.Error())
		return
	}

	tc := core.NewTaskContext(ctx, taskID, skill, input, e.store, e.tools, e.peers, inv.resume, e.inputTimeout, e.logger)

	result, err := e.invoke(tc, taskID, skill, handler)
	if err != nil {
		e.fail(ctx, taskID, skill, err, start)
		return
	}

	for _, a := range result.Artifacts {
		if _, err := e.store.AppendArtifact(taskID, a); err != nil {
			// Lost a race to cancellation; the terminal event already went out.
			e.logger.Debug("dispatch.artifact.dropped", "task_id", taskID, "reason", err.Error())
			return
		}
	}

	msg := result.Message
	if msg == "" {
		msg = "done"
	}
	if err := e.store.Transition(taskID, core.StateCompleted, msg); err != nil {
		e.logger.Debug("dispatch.complete.lost", "task_id", taskID, "reason", err.Error())
		return
	}

	e.logger.Info("dispatch.completed", "task_id", taskID, "skill", skill, "duration_ms", time.Since(start).Milliseconds())
}

// invoke runs the handler with panic isolation. A recovered panic surfaces as
// *core.HandlerFault; the engine itself always survives.
func (e *Engine) invoke(tc *core.TaskContext, taskID, skill string, handler core.Handler) (result *core.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			fault := &core.HandlerFault{TaskID: taskID, Skill: skill, Recovered: r}
			e.logger.Error("dispatch.handler.fault", "task_id", taskID, "skill", skill, "recovered", fmt.Sprintf("%v", r))
			result, err = nil, fault
		}
	}()

	result, err = handler.Invoke(tc)
	if err == nil && result == nil {
		result = &core.Result{}
	}
	return
}

// fail records a handler failure. Input timeouts already failed the task from
// inside AwaitInput; cancellation already produced the terminal event. Both
// are no-ops here.
func (e *Engine) fail(ctx context.Context, taskID, skill string, err error, start time.Time) {
	if errors.Is(err, core.ErrInputTimeout) {
		e.logger.Info("dispatch.input_timeout", "task_id", taskID, "skill", skill)
		return
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		e.logger.Debug("dispatch.canceled", "task_id", taskID, "skill", skill)
		return
	}

	kind := core.ErrorKindHandlerError
	var fault *core.HandlerFault
	if errors.As(err, &fault) {
		kind = core.ErrorKindHandlerFault
	}
	var toolErr *tool.ToolError
	if errors.As(err, &toolErr) {
		kind = core.ErrorKindToolError
	}
	var detail *core.ErrorDetail
	if errors.As(err, &detail) && detail.Kind != "" {
		kind = detail.Kind
	}

	if ferr := e.store.Fail(taskID, &core.ErrorDetail{Kind: kind, Message: err.Error()}); ferr != nil {
		// Lost the race to a concurrent cancel; nothing more to record.
		e.logger.Debug("dispatch.fail.lost", "task_id", taskID, "reason", ferr.Error())
		return
	}

	e.logger.Error("dispatch.failed", "task_id", taskID, "skill", skill, "kind", kind, "duration_ms", time.Since(start).Milliseconds(), "error", err.Error())
}

// Get returns a snapshot of the task.
func (e *Engine) Get(taskID string) (*core.Task, error) {
	return e.store.Get(taskID)
}

// Subscribe attaches to the task's event stream, replaying events with
// Sequence > fromSequence first. Use 0 to receive the full history.
func (e *Engine) Subscribe(taskID string, fromSequence int64) (*core.Subscription, error) {
	return e.bus.Subscribe(taskID, fromSequence)
}

// Cancel requests cancellation. The store transition is immediate and emits
// the terminal event; the running handler (if any) is cancelled
// cooperatively through its context afterwards. Fails with
// ErrIllegalTransition when the task is already terminal.
func (e *Engine) Cancel(taskID, reason string) error {
	if reason == "" {
		reason = "canceled by caller"
	}
	if err := e.store.Cancel(taskID, reason); err != nil {
		return err
	}

	e.mu.Lock()
	inv, ok := e.active[taskID]
	e.mu.Unlock()
	if ok {
		inv.cancel()
	}

	e.logger.Info("dispatch.canceled", "task_id", taskID, "reason", reason)
	return nil
}

// Resume delivers caller input to a task suspended in input_required,
// transitioning it back to working. Fails with ErrTaskNotActive when the
// task is not awaiting input.
func (e *Engine) Resume(taskID string, input core.Content) error {
	e.mu.Lock()
	inv, ok := e.active[taskID]
	e.mu.Unlock()

	t, err := e.store.Get(taskID)
	if err != nil {
		return err
	}
	// The precheck keeps a still-queued task (submitted) from being moved to
	// working by a stray resume; the legality table alone would allow it.
	if !ok || t.State != core.StateInputRequired {
		return fmt.Errorf("%w: task %s is %s", core.ErrTaskNotActive, taskID, t.State)
	}

	// The CAS is the arbiter against a concurrent timeout or cancel: only
	// the caller whose transition applies delivers input.
	if err := e.store.Transition(taskID, core.StateWorking, "input received"); err != nil {
		if errors.Is(err, core.ErrIllegalTransition) {
			return fmt.Errorf("%w: %s", core.ErrTaskNotActive, err.Error())
		}
		return err
	}

	select {
	case inv.resume <- input:
	default:
		// Only reachable if a previous resume was never consumed; the
		// transition above makes this a duplicate.
		return fmt.Errorf("%w: task %s already resumed", core.ErrTaskNotActive, taskID)
	}

	e.logger.Debug("dispatch.resumed", "task_id", taskID)
	return nil
}

// ActiveCount reports the number of tasks with a live invocation (queued or
// running).
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Close cancels all live invocations. Task records transition to canceled
// through the regular cancel path.
func (e *Engine) Close() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		// Ignore races with tasks finishing on their own.
		_ = e.Cancel(id, "engine shutdown")
	}
}
