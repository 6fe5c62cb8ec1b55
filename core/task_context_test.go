package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore records mutations and mirrors the store's current-state check on
// the guarded fail so races resolve the way the real CAS would.
type mockStore struct {
	mu          sync.Mutex
	state       TaskState
	transitions []TaskState
	artifacts   []Artifact
	failDetail  *ErrorDetail
}

func (m *mockStore) Create(p CreateParams) (*Task, error) { return nil, errors.New("not implemented") }

func (m *mockStore) Get(id string) (*Task, error) { return nil, errors.New("not implemented") }

func (m *mockStore) Transition(id string, to TaskState, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = to
	m.transitions = append(m.transitions, to)
	return nil
}

func (m *mockStore) Fail(id string, detail *ErrorDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDetail = detail
	m.state = StateFailed
	m.transitions = append(m.transitions, StateFailed)
	return nil
}

func (m *mockStore) FailFrom(id string, from TaskState, detail *ErrorDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return &IllegalTransitionError{TaskID: id, From: m.state, To: StateFailed}
	}
	m.failDetail = detail
	m.state = StateFailed
	m.transitions = append(m.transitions, StateFailed)
	return nil
}

func (m *mockStore) AppendArtifact(id string, a Artifact) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Index = len(m.artifacts)
	m.artifacts = append(m.artifacts, a)
	return &a, nil
}

func (m *mockStore) Cancel(id, reason string) error {
	return m.Transition(id, StateCanceled, reason)
}

func newTestContext(ctx context.Context, store TaskStore, resume <-chan Content, timeout time.Duration) *TaskContext {
	return NewTaskContext(ctx, "t1", "echo", TextContent("user", "in"), store, nil, nil, resume, timeout, nil)
}

func TestAwaitInputResumed(t *testing.T) {
	store := &mockStore{}
	resume := make(chan Content, 1)
	tc := newTestContext(context.Background(), store, resume, time.Second)

	resume <- TextContent("user", "the answer")

	in, err := tc.AwaitInput("what now?")
	require.NoError(t, err)
	assert.Equal(t, "the answer", in.Text())
	assert.Equal(t, []TaskState{StateInputRequired}, store.transitions)
}

func TestAwaitInputTimeout(t *testing.T) {
	store := &mockStore{}
	resume := make(chan Content)
	tc := newTestContext(context.Background(), store, resume, 20*time.Millisecond)

	_, err := tc.AwaitInput("no one answers")
	assert.True(t, errors.Is(err, ErrInputTimeout))
	require.NotNil(t, store.failDetail)
	assert.Equal(t, ErrorKindInputTimeout, store.failDetail.Kind)
}

func TestAwaitInputTimeoutLosesToResume(t *testing.T) {
	// A resume transition is applied before the timer fires but its input is
	// delivered late; the guarded fail must lose the CAS and AwaitInput must
	// honor the input instead of reporting a timeout.
	store := &mockStore{}
	resume := make(chan Content, 1)
	tc := newTestContext(context.Background(), store, resume, 50*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond) // after AwaitInput entered input_required
		require.NoError(t, store.Transition("t1", StateWorking, "input received"))
		time.Sleep(80 * time.Millisecond) // past the timeout
		resume <- TextContent("user", "just in time")
	}()

	in, err := tc.AwaitInput("hurry")
	require.NoError(t, err)
	assert.Equal(t, "just in time", in.Text())
	assert.Nil(t, store.failDetail)
}

func TestAwaitInputCanceled(t *testing.T) {
	store := &mockStore{}
	ctx, cancel := context.WithCancel(context.Background())
	tc := newTestContext(ctx, store, make(chan Content), time.Second)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := tc.AwaitInput("waiting")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestProgressAppendsArtifact(t *testing.T) {
	store := &mockStore{}
	tc := newTestContext(context.Background(), store, nil, 0)

	require.NoError(t, tc.ProgressText("out", "chunk"))
	require.Len(t, store.artifacts, 1)
	assert.Equal(t, "out", store.artifacts[0].Name)
}

func TestInvokeToolWithoutInvoker(t *testing.T) {
	tc := newTestContext(context.Background(), &mockStore{}, nil, 0)
	_, err := tc.InvokeTool("anything", nil)
	assert.True(t, errors.Is(err, ErrToolUnavailable))
}
