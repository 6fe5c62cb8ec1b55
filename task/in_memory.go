package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// Compile time check to ensure InMemoryStore satisfies the TaskStore interface.
var _ core.TaskStore = (*InMemoryStore)(nil)

// Options holds configuration overrides passed to NewInMemoryStore().
type Options struct {
	// Logging services.
	Logger logging.Logger
	// Clock is the time source for timestamps. Overridable for tests.
	Clock func() time.Time
}

// InMemoryStore is a volatile TaskStore keeping records in a process local
// map. Records are owned exclusively by the store; all reads return
// snapshots. Every lifecycle transition and artifact append is published to
// the event bus while holding the record lock, so the event order on the bus
// matches the record's history.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record

	bus    core.EventBus
	logger logging.Logger
	clock  func() time.Time
}

// record pairs a task with the mutex serializing its mutations.
type record struct {
	mu   sync.Mutex
	task *core.Task
}

// NewInMemoryStore creates an empty store publishing to the given bus.
func NewInMemoryStore(bus core.EventBus, optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Clock:  time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		records: make(map[string]*record),
		bus:     bus,
		logger:  opts.Logger,
		clock:   opts.Clock,
	}
}

// Create allocates a new record in the submitted state and registers the
// task's event stream. No event is published for creation itself; the first
// event on the stream is the submitted -> working transition.
func (s *InMemoryStore) Create(p core.CreateParams) (*core.Task, error) {
	id := p.ID
	if id == "" {
		id = core.NewID()
	}

	now := s.clock().UTC()
	t := &core.Task{
		ID:        id,
		Skill:     p.Skill,
		Agent:     p.Agent,
		Input:     p.Input,
		State:     core.StateSubmitted,
		Metadata:  p.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	if _, exists := s.records[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("task %q already exists", id)
	}
	s.records[id] = &record{task: t}
	s.mu.Unlock()

	s.bus.Register(id)
	s.logger.Debug("task.created", "task_id", id, "skill", p.Skill, "agent", p.Agent)

	return t.Clone(), nil
}

func (s *InMemoryStore) record(id string) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	return r, nil
}

// Get returns a snapshot of the task.
func (s *InMemoryStore) Get(id string) (*core.Task, error) {
	r, err := s.record(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.task.Clone(), nil
}

// Transition applies a compare-and-set guarded state change, appends it to
// the task's history and publishes the status event.
func (s *InMemoryStore) Transition(id string, to core.TaskState, detail string) error {
	return s.transition(id, nil, to, detail, nil)
}

// Fail transitions the task to failed and records the structured error
// detail. The detail travels on the terminal status event as well.
func (s *InMemoryStore) Fail(id string, detail *core.ErrorDetail) error {
	return s.failFrom(id, nil, detail)
}

// FailFrom fails the task only while it is still in the given state. A
// racing transition that already left that state wins and the caller gets
// an IllegalTransitionError.
func (s *InMemoryStore) FailFrom(id string, from core.TaskState, detail *core.ErrorDetail) error {
	return s.failFrom(id, &from, detail)
}

func (s *InMemoryStore) failFrom(id string, from *core.TaskState, detail *core.ErrorDetail) error {
	msg := ""
	if detail != nil {
		msg = detail.Message
	}
	return s.transition(id, from, core.StateFailed, msg, detail)
}

// Cancel requests the canceled terminal state. Legal from any non-terminal
// state; racing against a completing handler, whichever transition the CAS
// applies first wins and the loser gets an IllegalTransitionError.
func (s *InMemoryStore) Cancel(id, reason string) error {
	return s.transition(id, nil, core.StateCanceled, reason, nil)
}

func (s *InMemoryStore) transition(id string, expect *core.TaskState, to core.TaskState, detail string, errDetail *core.ErrorDetail) error {
	r, err := s.record(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.task.State
	if expect != nil && from != *expect {
		return &core.IllegalTransitionError{TaskID: id, From: from, To: to}
	}
	if !from.CanTransitionTo(to) {
		return &core.IllegalTransitionError{TaskID: id, From: from, To: to}
	}

	now := s.clock().UTC()
	r.task.State = to
	r.task.UpdatedAt = now
	r.task.History = append(r.task.History, core.Transition{
		From:      from,
		To:        to,
		Detail:    detail,
		Timestamp: now,
	})
	if errDetail != nil {
		r.task.Error = errDetail
	}

	ev := core.NewStatusEvent(id, core.Status{State: to, Message: detail, Error: errDetail})
	if err := s.bus.Publish(id, ev); err != nil {
		s.logger.Error("task.event.publish_failed", "task_id", id, "state", string(to), "error", err.Error())
	}

	s.logger.Debug("task.transition", "task_id", id, "from", string(from), "to", string(to))
	return nil
}

// AppendArtifact appends an output while the task is active, assigns its
// Index and publishes the artifact event.
func (s *InMemoryStore) AppendArtifact(id string, a core.Artifact) (*core.Artifact, error) {
	r, err := s.record(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.task.State
	if state != core.StateWorking && state != core.StateInputRequired {
		return nil, fmt.Errorf("%w: task %s is %s", core.ErrTaskNotActive, id, state)
	}

	a.Index = len(r.task.Artifacts)
	r.task.Artifacts = append(r.task.Artifacts, a)
	r.task.UpdatedAt = s.clock().UTC()

	ev := core.NewArtifactEvent(id, a)
	if err := s.bus.Publish(id, ev); err != nil {
		s.logger.Error("task.event.publish_failed", "task_id", id, "artifact_index", a.Index, "error", err.Error())
	}

	return &a, nil
}

// List returns snapshots of all tasks, in no particular order. Diagnostics
// helper; not part of the TaskStore contract.
func (s *InMemoryStore) List() []*core.Task {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	out := make([]*core.Task, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		out = append(out, r.task.Clone())
		r.mu.Unlock()
	}
	return out
}
