package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/agent"
	"github.com/hupe1980/taskmesh/bus"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/registry"
	"github.com/hupe1980/taskmesh/task"
)

// newAgent registers a single-skill agent on a fresh registry.
func newAgent(t *testing.T, reg core.Registry, agentName, skill string, fn agent.HandlerFunc, optFns ...func(o *agent.Options)) *agent.Agent {
	t.Helper()
	a := agent.New(agentName, optFns...)
	require.NoError(t, a.AddSkill(agent.NewFuncHandler(core.Skill{Name: skill}, fn)))
	require.NoError(t, reg.Register(a))
	return a
}

// drain collects the full event stream of a task or fails the test after a
// timeout.
func drain(t *testing.T, e *Engine, taskID string) []core.Event {
	t.Helper()
	sub, err := e.Subscribe(taskID, 0)
	require.NoError(t, err)

	var events []core.Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out draining events for task %s (got %d)", taskID, len(events))
		case ev, ok := <-sub.Events():
			if !ok {
				require.NoError(t, sub.Err())
				return events
			}
			events = append(events, ev)
		}
	}
}

func TestSubmitEchoEmitsExactlyThreeEvents(t *testing.T) {
	reg := registry.New()
	newAgent(t, reg, "echo-agent", "echo", func(tc *core.TaskContext) (*core.Result, error) {
		return core.TextResult("echo", tc.Input.Text()), nil
	})
	e := New(reg)

	created, err := e.Submit(context.Background(), SubmitParams{
		Skill: "echo",
		Input: core.TextContent("user", "hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StateSubmitted, created.State)
	assert.Equal(t, "echo-agent", created.Agent)

	events := drain(t, e, created.ID)
	require.Len(t, events, 3)

	assert.Equal(t, core.EventStatus, events[0].Kind)
	assert.Equal(t, core.StateWorking, events[0].Status.State)
	assert.Equal(t, core.EventArtifact, events[1].Kind)
	assert.Equal(t, "echo", events[1].Artifact.Name)
	assert.Equal(t, core.EventStatus, events[2].Kind)
	assert.Equal(t, core.StateCompleted, events[2].Status.State)
	assert.True(t, events[2].Final)

	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}

	final, err := e.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, final.State)
	require.Len(t, final.Artifacts, 1)
	assert.Equal(t, 0, final.Artifacts[0].Index)
	assert.Equal(t, "hello", final.Artifacts[0].Parts[0].(core.TextPart).Text)
}

func TestSubmitUnknownSkill(t *testing.T) {
	reg := registry.New()
	store := task.NewInMemoryStore(bus.New())
	e := New(reg, func(o *Options) { o.Store = store })

	_, err := e.Submit(context.Background(), SubmitParams{Skill: "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidSkill))

	// No record was created.
	assert.Empty(t, store.List())
}

func TestAwaitInputAndResume(t *testing.T) {
	reg := registry.New()
	newAgent(t, reg, "approver", "approve", func(tc *core.TaskContext) (*core.Result, error) {
		answer, err := tc.AwaitInput("need a decision")
		if err != nil {
			return nil, err
		}
		return core.TextResult("decision", answer.Text()), nil
	})
	e := New(reg)

	created, err := e.Submit(context.Background(), SubmitParams{
		Skill: "approve",
		Input: core.TextContent("user", "may I?"),
	})
	require.NoError(t, err)

	sub, err := e.Subscribe(created.ID, 0)
	require.NoError(t, err)

	var events []core.Event
	for ev := range sub.Events() {
		events = append(events, ev)
		if ev.Kind == core.EventStatus && ev.Status.State == core.StateInputRequired {
			assert.Equal(t, "need a decision", ev.Status.Message)
			require.NoError(t, e.Resume(created.ID, core.TextContent("user", "yes")))
		}
	}
	require.NoError(t, sub.Err())

	// working, input_required, working, artifact, completed
	require.Len(t, events, 5)
	assert.Equal(t, core.StateInputRequired, events[1].Status.State)
	assert.Equal(t, core.StateWorking, events[2].Status.State)

	final, err := e.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, final.State)
	assert.Equal(t, "yes", final.Artifacts[0].Parts[0].(core.TextPart).Text)
}

func TestAwaitInputTimesOut(t *testing.T) {
	reg := registry.New()
	handlerErr := make(chan error, 1)
	newAgent(t, reg, "approver", "approve", func(tc *core.TaskContext) (*core.Result, error) {
		_, err := tc.AwaitInput("need a decision")
		handlerErr <- err
		return nil, err
	})
	e := New(reg, func(o *Options) { o.InputTimeout = 50 * time.Millisecond })

	created, err := e.Submit(context.Background(), SubmitParams{Skill: "approve"})
	require.NoError(t, err)

	events := drain(t, e, created.ID)
	final := events[len(events)-1]
	assert.True(t, final.Final)
	assert.Equal(t, core.StateFailed, final.Status.State)
	require.NotNil(t, final.Status.Error)
	assert.Equal(t, core.ErrorKindInputTimeout, final.Status.Error.Kind)

	assert.True(t, errors.Is(<-handlerErr, core.ErrInputTimeout))

	snapshot, err := e.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, snapshot.State)
	assert.Equal(t, core.ErrorKindInputTimeout, snapshot.Error.Kind)

	// Resuming a failed task is rejected.
	err = e.Resume(created.ID, core.TextContent("user", "too late"))
	assert.True(t, errors.Is(err, core.ErrTaskNotActive))
}

func TestResumeNonWaitingTask(t *testing.T) {
	reg := registry.New()
	release := make(chan struct{})
	newAgent(t, reg, "worker", "work", func(tc *core.TaskContext) (*core.Result, error) {
		<-release
		return &core.Result{}, nil
	})
	e := New(reg)

	created, err := e.Submit(context.Background(), SubmitParams{Skill: "work"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := e.Get(created.ID)
		return err == nil && snap.State == core.StateWorking
	}, time.Second, 5*time.Millisecond)

	err = e.Resume(created.ID, core.TextContent("user", "unsolicited"))
	assert.True(t, errors.Is(err, core.ErrTaskNotActive))

	close(release)
	drain(t, e, created.ID)
}

func TestCancelRunningTask(t *testing.T) {
	reg := registry.New()
	started := make(chan struct{})
	newAgent(t, reg, "worker", "work", func(tc *core.TaskContext) (*core.Result, error) {
		close(started)
		<-tc.Done()
		// Late result after cancellation; must not override the terminal state.
		return core.TextResult("late", "ignored"), tc.Err()
	})
	e := New(reg)

	created, err := e.Submit(context.Background(), SubmitParams{Skill: "work"})
	require.NoError(t, err)
	<-started

	require.NoError(t, e.Cancel(created.ID, "caller gave up"))

	events := drain(t, e, created.ID)
	final := events[len(events)-1]
	assert.True(t, final.Final)
	assert.Equal(t, core.StateCanceled, final.Status.State)
	assert.Equal(t, "caller gave up", final.Status.Message)

	finals := 0
	for _, ev := range events {
		if ev.Final {
			finals++
		}
	}
	assert.Equal(t, 1, finals)

	snapshot, err := e.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCanceled, snapshot.State)
	assert.Empty(t, snapshot.Artifacts)

	// Cancel of a terminal task is rejected.
	err = e.Cancel(created.ID, "again")
	assert.True(t, errors.Is(err, core.ErrIllegalTransition))
}

func TestHandlerPanicBecomesFault(t *testing.T) {
	reg := registry.New()
	newAgent(t, reg, "worker", "explode", func(tc *core.TaskContext) (*core.Result, error) {
		panic("kaboom")
	})
	newAgent(t, reg, "echoer", "echo", func(tc *core.TaskContext) (*core.Result, error) {
		return core.TextResult("echo", "still alive"), nil
	})
	e := New(reg)

	created, err := e.Submit(context.Background(), SubmitParams{Skill: "explode"})
	require.NoError(t, err)

	events := drain(t, e, created.ID)
	final := events[len(events)-1]
	assert.Equal(t, core.StateFailed, final.Status.State)
	assert.Equal(t, core.ErrorKindHandlerFault, final.Status.Error.Kind)
	assert.Contains(t, final.Status.Error.Message, "kaboom")

	// The engine survives faults.
	next, err := e.Submit(context.Background(), SubmitParams{Skill: "echo"})
	require.NoError(t, err)
	drain(t, e, next.ID)
	snap, err := e.Get(next.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, snap.State)
}

func TestHandlerErrorFailsTask(t *testing.T) {
	reg := registry.New()
	newAgent(t, reg, "worker", "work", func(tc *core.TaskContext) (*core.Result, error) {
		return nil, errors.New("upstream unavailable")
	})
	e := New(reg)

	created, err := e.Submit(context.Background(), SubmitParams{Skill: "work"})
	require.NoError(t, err)

	events := drain(t, e, created.ID)
	final := events[len(events)-1]
	assert.Equal(t, core.StateFailed, final.Status.State)
	assert.Equal(t, core.ErrorKindHandlerError, final.Status.Error.Kind)
	assert.Contains(t, final.Status.Error.Message, "upstream unavailable")
}

func TestAgentBusyLeavesNoRecord(t *testing.T) {
	reg := registry.New()
	release := make(chan struct{})
	newAgent(t, reg, "worker", "work", func(tc *core.TaskContext) (*core.Result, error) {
		<-release
		return &core.Result{}, nil
	}, func(o *agent.Options) { o.QueueCapacity = 1 })

	b := bus.New()
	store := task.NewInMemoryStore(b)
	e := New(reg, func(o *Options) {
		o.Bus = b
		o.Store = store
	})

	first, err := e.Submit(context.Background(), SubmitParams{Skill: "work"})
	require.NoError(t, err)

	_, err = e.Submit(context.Background(), SubmitParams{Skill: "work"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrAgentBusy))

	// Only the admitted task exists.
	assert.Len(t, store.List(), 1)

	close(release)
	drain(t, e, first.ID)
}

// createRejectStore fails every Create; all other operations pass through.
type createRejectStore struct {
	core.TaskStore
}

func (s *createRejectStore) Create(core.CreateParams) (*core.Task, error) {
	return nil, errors.New("store unavailable")
}

func TestFailedCreateReleasesQueueSlot(t *testing.T) {
	reg := registry.New()
	a := newAgent(t, reg, "worker", "work", func(tc *core.TaskContext) (*core.Result, error) {
		return &core.Result{}, nil
	}, func(o *agent.Options) { o.QueueCapacity = 1 })

	b := bus.New()
	e := New(reg, func(o *Options) {
		o.Bus = b
		o.Store = &createRejectStore{TaskStore: task.NewInMemoryStore(b)}
	})

	_, err := e.Submit(context.Background(), SubmitParams{Skill: "work"})
	require.Error(t, err)

	// The reserved slot comes back; a failed submission must not shrink the
	// agent's capacity.
	require.Eventually(t, func() bool {
		commit, err := a.Admit()
		if err != nil {
			return false
		}
		commit(func() {})
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestQueuedTasksRunInFIFOOrder(t *testing.T) {
	reg := registry.New()
	order := make(chan string, 4)
	newAgent(t, reg, "worker", "work", func(tc *core.TaskContext) (*core.Result, error) {
		order <- tc.Input.Text()
		return &core.Result{}, nil
	}, func(o *agent.Options) { o.QueueCapacity = 4 })
	e := New(reg)

	var ids []string
	for _, in := range []string{"a", "b", "c", "d"} {
		created, err := e.Submit(context.Background(), SubmitParams{
			Skill: "work",
			Input: core.TextContent("user", in),
		})
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}
	for _, id := range ids {
		drain(t, e, id)
	}

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, <-order)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestMaxConcurrentDispatches(t *testing.T) {
	reg := registry.New()
	release := make(chan struct{})
	newAgent(t, reg, "worker-1", "slow", func(tc *core.TaskContext) (*core.Result, error) {
		<-release
		return &core.Result{}, nil
	})
	newAgent(t, reg, "worker-2", "fast", func(tc *core.TaskContext) (*core.Result, error) {
		return &core.Result{}, nil
	})
	e := New(reg, func(o *Options) { o.MaxConcurrentDispatches = 1 })

	slow, err := e.Submit(context.Background(), SubmitParams{Skill: "slow"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, err := e.Get(slow.ID)
		return err == nil && snap.State == core.StateWorking
	}, time.Second, 5*time.Millisecond)

	fast, err := e.Submit(context.Background(), SubmitParams{Skill: "fast"})
	require.NoError(t, err)

	// The second dispatch holds in submitted until the slot frees.
	time.Sleep(50 * time.Millisecond)
	snap, err := e.Get(fast.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateSubmitted, snap.State)

	close(release)
	drain(t, e, slow.ID)
	drain(t, e, fast.ID)

	snap, err = e.Get(fast.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, snap.State)
}

func TestCancelWhileAwaitingInput(t *testing.T) {
	reg := registry.New()
	newAgent(t, reg, "approver", "approve", func(tc *core.TaskContext) (*core.Result, error) {
		_, err := tc.AwaitInput("waiting")
		return nil, err
	})
	e := New(reg)

	created, err := e.Submit(context.Background(), SubmitParams{Skill: "approve"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := e.Get(created.ID)
		return err == nil && snap.State == core.StateInputRequired
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Cancel(created.ID, "changed my mind"))

	events := drain(t, e, created.ID)
	final := events[len(events)-1]
	assert.Equal(t, core.StateCanceled, final.Status.State)

	// A resume after cancel is rejected.
	err = e.Resume(created.ID, core.TextContent("user", "late"))
	assert.True(t, errors.Is(err, core.ErrTaskNotActive))
}
