package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/bus"
	"github.com/hupe1980/taskmesh/core"
)

func newStore(t *testing.T) (*InMemoryStore, *bus.InMemoryBus) {
	t.Helper()
	b := bus.New()
	return NewInMemoryStore(b), b
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newStore(t)

	created, err := s.Create(core.CreateParams{
		Skill: "echo",
		Agent: "echo-agent",
		Input: core.TextContent("user", "hi"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, core.StateSubmitted, created.State)

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "echo", got.Skill)

	// Snapshots are isolated from the record.
	got.Skill = "mutated"
	again, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo", again.Skill)
}

func TestCreateWithPreallocatedID(t *testing.T) {
	s, _ := newStore(t)

	created, err := s.Create(core.CreateParams{ID: "fixed-id", Skill: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", created.ID)

	_, err = s.Create(core.CreateParams{ID: "fixed-id", Skill: "echo"})
	assert.Error(t, err)
}

func TestGetUnknownTask(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Get("nope")
	assert.True(t, errors.Is(err, core.ErrTaskNotFound))
}

func TestTransitionRecordsHistoryAndPublishes(t *testing.T) {
	s, b := newStore(t)
	created, err := s.Create(core.CreateParams{Skill: "echo"})
	require.NoError(t, err)

	require.NoError(t, s.Transition(created.ID, core.StateWorking, "dispatched"))
	require.NoError(t, s.Transition(created.ID, core.StateCompleted, "done"))

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, got.State)
	require.Len(t, got.History, 2)
	assert.Equal(t, core.StateSubmitted, got.History[0].From)
	assert.Equal(t, core.StateWorking, got.History[0].To)
	assert.Equal(t, "dispatched", got.History[0].Detail)

	log, err := b.Log(created.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, core.StateWorking, log[0].Status.State)
	assert.True(t, log[1].Final)
}

func TestIllegalTransitionRejected(t *testing.T) {
	s, _ := newStore(t)
	created, err := s.Create(core.CreateParams{Skill: "echo"})
	require.NoError(t, err)

	err = s.Transition(created.ID, core.StateCompleted, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrIllegalTransition))

	// Rejected transitions leave no trace.
	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateSubmitted, got.State)
	assert.Empty(t, got.History)
}

func TestFailRecordsErrorDetail(t *testing.T) {
	s, b := newStore(t)
	created, err := s.Create(core.CreateParams{Skill: "echo"})
	require.NoError(t, err)
	require.NoError(t, s.Transition(created.ID, core.StateWorking, ""))

	detail := &core.ErrorDetail{Kind: core.ErrorKindHandlerError, Message: "boom"}
	require.NoError(t, s.Fail(created.ID, detail))

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, got.State)
	require.NotNil(t, got.Error)
	assert.Equal(t, core.ErrorKindHandlerError, got.Error.Kind)

	log, err := b.Log(created.ID)
	require.NoError(t, err)
	final := log[len(log)-1]
	assert.True(t, final.Final)
	require.NotNil(t, final.Status.Error)
	assert.Equal(t, "boom", final.Status.Error.Message)
}

func TestAppendArtifact(t *testing.T) {
	s, b := newStore(t)
	created, err := s.Create(core.CreateParams{Skill: "echo"})
	require.NoError(t, err)

	// Not active yet.
	_, err = s.AppendArtifact(created.ID, core.TextArtifact("out", "early"))
	assert.True(t, errors.Is(err, core.ErrTaskNotActive))

	require.NoError(t, s.Transition(created.ID, core.StateWorking, ""))

	first, err := s.AppendArtifact(created.ID, core.TextArtifact("out", "a"))
	require.NoError(t, err)
	assert.Equal(t, 0, first.Index)

	second, err := s.AppendArtifact(created.ID, core.TextArtifact("out", "b"))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Index)

	require.NoError(t, s.Transition(created.ID, core.StateCompleted, ""))
	_, err = s.AppendArtifact(created.ID, core.TextArtifact("out", "late"))
	assert.True(t, errors.Is(err, core.ErrTaskNotActive))

	log, err := b.Log(created.ID)
	require.NoError(t, err)
	// working + 2 artifacts + completed
	assert.Len(t, log, 4)
}

func TestFailFromGuardsCurrentState(t *testing.T) {
	s, _ := newStore(t)
	created, err := s.Create(core.CreateParams{Skill: "echo"})
	require.NoError(t, err)
	require.NoError(t, s.Transition(created.ID, core.StateWorking, ""))
	require.NoError(t, s.Transition(created.ID, core.StateInputRequired, "need more"))

	// The task already left input_required; the guarded fail must lose even
	// though working -> failed is a legal edge.
	require.NoError(t, s.Transition(created.ID, core.StateWorking, "input received"))
	detail := &core.ErrorDetail{Kind: core.ErrorKindInputTimeout, Message: "too late"}
	err = s.FailFrom(created.ID, core.StateInputRequired, detail)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrIllegalTransition))

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateWorking, got.State)
	assert.Nil(t, got.Error)

	// While the task is still input_required the guard passes.
	require.NoError(t, s.Transition(created.ID, core.StateInputRequired, "need more"))
	require.NoError(t, s.FailFrom(created.ID, core.StateInputRequired, detail))

	got, err = s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, got.State)
}

func TestAwaitInputHonorsResumeAppliedBeforeTimeout(t *testing.T) {
	// The caller's resume transition wins the CAS before the input timeout
	// fires, but the input itself arrives late. The timeout must not fail the
	// task; AwaitInput waits out the delivery and returns the input.
	s, _ := newStore(t)
	created, err := s.Create(core.CreateParams{Skill: "echo"})
	require.NoError(t, err)
	require.NoError(t, s.Transition(created.ID, core.StateWorking, "dispatched"))

	resume := make(chan core.Content, 1)
	tc := core.NewTaskContext(context.Background(), created.ID, "echo",
		core.TextContent("user", "hi"), s, nil, nil, resume, 50*time.Millisecond, nil)

	type result struct {
		in  core.Content
		err error
	}
	done := make(chan result, 1)
	go func() {
		in, err := tc.AwaitInput("need more")
		done <- result{in, err}
	}()

	require.Eventually(t, func() bool {
		got, err := s.Get(created.ID)
		return err == nil && got.State == core.StateInputRequired
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Transition(created.ID, core.StateWorking, "input received"))
	time.Sleep(100 * time.Millisecond) // let the input timeout fire and lose
	resume <- core.TextContent("user", "late but acked")

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "late but acked", res.in.Text())

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateWorking, got.State)
	assert.Nil(t, got.Error)
}

func TestCancelFromEveryNonTerminalState(t *testing.T) {
	s, _ := newStore(t)

	for _, setup := range []struct {
		name  string
		steps []core.TaskState
	}{
		{"submitted", nil},
		{"working", []core.TaskState{core.StateWorking}},
		{"input_required", []core.TaskState{core.StateWorking, core.StateInputRequired}},
	} {
		t.Run(setup.name, func(t *testing.T) {
			created, err := s.Create(core.CreateParams{Skill: "echo"})
			require.NoError(t, err)
			for _, st := range setup.steps {
				require.NoError(t, s.Transition(created.ID, st, ""))
			}

			require.NoError(t, s.Cancel(created.ID, "caller gave up"))

			got, err := s.Get(created.ID)
			require.NoError(t, err)
			assert.Equal(t, core.StateCanceled, got.State)

			// Terminal states are final.
			err = s.Cancel(created.ID, "again")
			assert.True(t, errors.Is(err, core.ErrIllegalTransition))
		})
	}
}

func TestConcurrentCancelVersusComplete(t *testing.T) {
	s, b := newStore(t)
	created, err := s.Create(core.CreateParams{Skill: "echo"})
	require.NoError(t, err)
	require.NoError(t, s.Transition(created.ID, core.StateWorking, ""))

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = s.Cancel(created.ID, "race")
	}()
	go func() {
		defer wg.Done()
		results[1] = s.Transition(created.ID, core.StateCompleted, "race")
	}()
	wg.Wait()

	// Exactly one side wins the CAS.
	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.True(t, errors.Is(err, core.ErrIllegalTransition))
		}
	}
	assert.Equal(t, 1, winners)

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.True(t, got.State.Terminal())

	// A single terminal event went out.
	log, err := b.Log(created.ID)
	require.NoError(t, err)
	finals := 0
	for _, ev := range log {
		if ev.Final {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}
